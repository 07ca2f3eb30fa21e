package classifier

// Category is the semantic type assigned to a control or text value.
type Category string

const (
	CategoryEmail       Category = "email"
	CategoryPhone       Category = "phone"
	CategoryPassword    Category = "password"
	CategoryUsername    Category = "username"
	CategoryCompany     Category = "company"
	CategoryPostalCode  Category = "postal_code"
	CategoryCity        Category = "city"
	CategoryCountry     Category = "country"
	CategoryAddress     Category = "address"
	CategoryDate        Category = "date"
	CategoryPrice       Category = "price"
	CategoryQuantity    Category = "quantity"
	CategoryURL         Category = "url"
	CategorySearch      Category = "search"
	CategoryTitle       Category = "title"
	CategoryDescription Category = "description"
	CategoryName        Category = "name"
	CategoryText        Category = "text"
)

// vocabulary lists keyword variants per category in the order categories
// are tested. Keywords are folded at init, so accents and case do not matter.
// Short stems such as "ort", "land", "cap" or "count" are left out because
// they match inside unrelated words.
var vocabulary = []struct {
	category Category
	keywords []string
}{
	{CategoryEmail, []string{
		"email", "e-mail", "mail", "courriel", "correo", "correo electrónico",
		"posta elettronica", "почта", "пошта", "邮箱", "电子邮件",
	}},
	{CategoryPhone, []string{
		"phone", "tel", "telephone", "mobile", "cellphone", "téléphone", "portable",
		"teléfono", "celular", "móvil", "telefon", "handy", "telemóvel", "telefone",
		"телефон", "电话", "手机",
	}},
	{CategoryPassword, []string{
		"password", "passwd", "pwd", "mot de passe", "contraseña", "clave",
		"passwort", "kennwort", "senha", "пароль", "密码",
	}},
	{CategoryUsername, []string{
		"username", "user name", "userid", "user id", "login", "nom d'utilisateur",
		"usuario", "benutzername", "nome utente", "utilizador", "логин",
		"имя пользователя", "ім'я користувача", "用户名",
	}},
	{CategoryCompany, []string{
		"company", "organization", "organisation", "employer", "business",
		"entreprise", "société", "empresa", "firma", "unternehmen", "azienda",
		"компания", "компанія", "організація", "公司",
	}},
	{CategoryPostalCode, []string{
		"zip", "postal", "postcode", "post code", "code postal", "código postal",
		"plz", "postleitzahl", "codice postale", "индекс", "індекс", "邮编",
	}},
	{CategoryCity, []string{
		"city", "town", "ville", "ciudad", "stadt", "cidade", "città", "город",
		"місто", "城市",
	}},
	{CategoryCountry, []string{
		"country", "pays", "país", "paese", "страна", "країна", "国家",
	}},
	{CategoryAddress, []string{
		"address", "street", "addr", "adresse", "dirección", "calle", "straße",
		"endereço", "indirizzo", "адрес", "адреса", "вулиця", "地址",
	}},
	{CategoryDate, []string{
		"date", "birthday", "dob", "fecha", "datum", "nascimento", "дата", "日期",
	}},
	{CategoryPrice, []string{
		"price", "cost", "amount", "total", "prix", "precio", "preis", "preço",
		"prezzo", "цена", "ціна", "价格",
	}},
	{CategoryQuantity, []string{
		"quantity", "qty", "quantité", "cantidad", "menge", "anzahl",
		"quantidade", "quantità", "количество", "кількість", "数量",
	}},
	{CategoryURL, []string{
		"url", "website", "homepage", "link", "site web", "sitio web", "webseite",
		"сайт", "网址",
	}},
	{CategorySearch, []string{
		"search", "query", "recherche", "buscar", "búsqueda", "suche", "pesquisa",
		"cerca", "поиск", "пошук", "搜索",
	}},
	{CategoryTitle, []string{
		"title", "headline", "heading", "subject", "titre", "título", "titel",
		"titolo", "заголовок", "标题",
	}},
	{CategoryDescription, []string{
		"description", "desc", "details", "summary", "comment", "message",
		"descripción", "beschreibung", "descrição", "descrizione", "описание",
		"опис", "描述",
	}},
	{CategoryName, []string{
		"name", "fullname", "full name", "first name", "last name", "surname",
		"nom complet", "prénom", "nom de famille", "nombre", "vorname", "nachname", "nome", "cognome", "имя",
		"фамилия", "ім'я", "прізвище", "姓名", "名字",
	}},
}

// inputTypes maps declared input subtypes to categories when no keyword hits.
var inputTypes = map[string]Category{
	"email":          CategoryEmail,
	"tel":            CategoryPhone,
	"date":           CategoryDate,
	"datetime":       CategoryDate,
	"datetime-local": CategoryDate,
	"number":         CategoryQuantity,
	"url":            CategoryURL,
	"password":       CategoryPassword,
	"search":         CategorySearch,
}
