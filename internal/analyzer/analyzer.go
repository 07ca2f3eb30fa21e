// Package analyzer sweeps a document once and reports its semantic layout,
// repeating patterns, forms, tables, lists, entities, embedded structured
// data and aggregate statistics.
package analyzer

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/classifier"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
	"golang.org/x/net/html"
)

// Limits bound the size of an Analysis.
type Limits struct {
	Products       int `yaml:"products" json:"products"`
	People         int `yaml:"people" json:"people"`
	Articles       int `yaml:"articles" json:"articles"`
	TableRows      int `yaml:"table_rows" json:"table_rows"`
	TextRecords    int `yaml:"text_records" json:"text_records"`
	Links          int `yaml:"links" json:"links"`
	Images         int `yaml:"images" json:"images"`
	HierarchyDepth int `yaml:"hierarchy_depth" json:"hierarchy_depth"`
	Samples        int `yaml:"samples" json:"samples"`
	ListItems      int `yaml:"list_items" json:"list_items"`
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{
		Products:       10,
		People:         10,
		Articles:       5,
		TableRows:      500,
		TextRecords:    200,
		Links:          200,
		Images:         100,
		HierarchyDepth: 5,
		Samples:        3,
		ListItems:      50,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&l.Products, def.Products)
	fill(&l.People, def.People)
	fill(&l.Articles, def.Articles)
	fill(&l.TableRows, def.TableRows)
	fill(&l.TextRecords, def.TextRecords)
	fill(&l.Links, def.Links)
	fill(&l.Images, def.Images)
	fill(&l.HierarchyDepth, def.HierarchyDepth)
	fill(&l.Samples, def.Samples)
	fill(&l.ListItems, def.ListItems)
	return l
}

// Analysis is the result of one Analyze call.
type Analysis struct {
	Semantic          map[string]int `json:"semantic"`
	Landmarks         []Landmark     `json:"landmarks"`
	Containers        []PatternMatch `json:"containers"`
	RepeatingPatterns []PatternMatch `json:"repeating_patterns"`
	Forms             []Form         `json:"forms"`
	Tables            []Table        `json:"tables"`
	Lists             []List         `json:"lists"`
	Entities          Entities       `json:"entities"`
	StructuredData    StructuredData `json:"structured_data"`
	TextRecords       []TextRecord   `json:"text_records"`
	Links             []Link         `json:"links"`
	Images            []Image        `json:"images"`
	Hierarchy         *HierarchyNode `json:"hierarchy,omitempty"`
	Statistics        Statistics     `json:"statistics"`
}

// FieldRecord is one typed value with provenance metadata.
type FieldRecord struct {
	FieldName string            `json:"field_name"`
	Value     string            `json:"value"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Statistics are document-wide counts.
type Statistics struct {
	Elements   int `json:"elements"`
	MaxDepth   int `json:"max_depth"`
	Words      int `json:"words"`
	Forms      int `json:"forms"`
	Controls   int `json:"controls"`
	Tables     int `json:"tables"`
	Lists      int `json:"lists"`
	Links      int `json:"links"`
	Images     int `json:"images"`
	TextBlocks int `json:"text_blocks"`
}

// Analyzer is safe for concurrent use; each call works on its own pass state.
type Analyzer struct {
	classifier *classifier.Classifier
	limits     Limits
	recorder   *telemetry.Recorder
	logger     utils.Logger
}

// New creates an analyzer. A nil classifier gets a default one.
func New(c *classifier.Classifier, limits Limits, recorder *telemetry.Recorder, logger utils.Logger) *Analyzer {
	if c == nil {
		c = classifier.New()
	}
	return &Analyzer{
		classifier: c,
		limits:     limits.withDefaults(),
		recorder:   recorder,
		logger:     utils.OrNop(logger).WithField("component", "analyzer"),
	}
}

// pass holds per-call caches.
type pass struct {
	*Analyzer
	root     *goquery.Selection
	depth    map[*html.Node]int
	maxDepth int
	measured bool
}

// Analyze inspects doc. It never fails; sections that find nothing are empty
// and a nil document yields an empty Analysis.
func (a *Analyzer) Analyze(doc dom.Document) *Analysis {
	op := a.recorder.Begin(telemetry.KindAnalyze, "analyze")
	defer op.End(true, nil)

	var root *goquery.Selection
	if doc != nil {
		root = doc.Root()
	}
	if root == nil {
		a.logger.Debug("no document to analyze")
		return &Analysis{}
	}
	p := &pass{Analyzer: a, root: root, depth: make(map[*html.Node]int)}

	res := &Analysis{
		Semantic:          p.semantic(),
		Landmarks:         p.landmarks(),
		Containers:        p.containers(),
		RepeatingPatterns: p.repeatingPatterns(),
		Forms:             p.forms(),
		Tables:            p.tables(),
		Lists:             p.lists(),
		Entities:          p.entities(),
		StructuredData:    p.structuredData(),
		TextRecords:       p.textRecords(),
		Links:             p.links(),
		Images:            p.images(),
		Hierarchy:         p.hierarchy(),
	}
	res.Statistics = p.statistics(res)

	a.logger.WithFields(map[string]interface{}{
		"elements":  res.Statistics.Elements,
		"max_depth": res.Statistics.MaxDepth,
		"forms":     res.Statistics.Forms,
		"tables":    res.Statistics.Tables,
	}).Debug("page analyzed")
	return res
}

// samples returns up to limit addresses for sel.
func (p *pass) samples(sel *goquery.Selection) []string {
	var out []string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = append(out, dom.AddressOf(s))
		return len(out) < p.limits.Samples
	})
	return out
}
