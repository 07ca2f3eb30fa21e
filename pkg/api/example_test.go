// pkg/api/example_test.go
package api_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/utils"
	"github.com/valpere/ScrapeMend/pkg/api"
)

func exampleConfig(tmpl organizer.Template) *config.Config {
	cfg := config.Default()
	cfg.Storage = storage.Config{Driver: storage.DriverMemory}
	cfg.Resolver.MaxRetries = 1
	cfg.Template = tmpl
	return cfg
}

// A renamed id is healed and the new address is remembered.
func ExampleClient_Extract() {
	cfg := exampleConfig(organizer.Template{
		Name:   "product",
		Fields: []organizer.FieldRequest{{Name: "title", Address: "#product-title"}},
	})
	client, err := api.New(context.Background(), cfg, api.WithLogger(utils.NewNopLogger()))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	page, err := api.ParseHTML(strings.NewReader(`<html><body><h1 id="product-titles">Desk Lamp</h1></body></html>`))
	if err != nil {
		log.Fatal(err)
	}
	result, err := client.Extract(context.Background(), page)
	if err != nil {
		log.Fatal(err)
	}

	title, _ := result.Fields.Get("title")
	fmt.Println(title)
	fmt.Println(client.Memory().Learned["#product-title"].NewAddress)
	// Output:
	// Desk Lamp
	// #product-titles
}

func ExampleClient_ExtractRows() {
	cfg := exampleConfig(organizer.Template{
		Name:      "catalog",
		Container: ".card",
		Fields: []organizer.FieldRequest{
			{Name: "title", Address: ".title"},
			{Name: "price", Address: ".price"},
		},
	})
	client, err := api.New(context.Background(), cfg, api.WithLogger(utils.NewNopLogger()))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	page, err := api.ParseHTML(strings.NewReader(`<html><body>
<div class="card"><h2 class="title">Lamp</h2><span class="price">19.99</span></div>
<div class="card"><h2 class="title">Desk</h2><span class="price">120</span></div>
</body></html>`))
	if err != nil {
		log.Fatal(err)
	}
	items, err := client.ExtractRows(context.Background(), page)
	if err != nil {
		log.Fatal(err)
	}
	for _, item := range items {
		fmt.Printf("%s: %s\n", item.Get("title"), item.Get("price"))
	}
	// Output:
	// Lamp: 19.99
	// Desk: 120
}
