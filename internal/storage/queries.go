package storage

var schemaStatements = []string{
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE CONSTRAINT user_email IF NOT EXISTS FOR (u:User) REQUIRE u.email IS UNIQUE`,
	`CREATE CONSTRAINT token_id IF NOT EXISTS FOR (t:Token) REQUIRE t.id IS UNIQUE`,
	`CREATE CONSTRAINT token_hash IF NOT EXISTS FOR (t:Token) REQUIRE t.hash IS UNIQUE`,
	`CREATE CONSTRAINT category_id IF NOT EXISTS FOR (c:Category) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT category_slug IF NOT EXISTS FOR (c:Category) REQUIRE c.slug IS UNIQUE`,
	`CREATE CONSTRAINT article_id IF NOT EXISTS FOR (a:Article) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT article_slug IF NOT EXISTS FOR (a:Article) REQUIRE a.slug IS UNIQUE`,
	`CREATE CONSTRAINT comment_id IF NOT EXISTS FOR (c:Comment) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT project_id IF NOT EXISTS FOR (p:Project) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT project_slug IF NOT EXISTS FOR (p:Project) REQUIRE p.slug IS UNIQUE`,
	`CREATE CONSTRAINT invoice_id IF NOT EXISTS FOR (i:Invoice) REQUIRE i.id IS UNIQUE`,
	`CREATE CONSTRAINT invoice_number IF NOT EXISTS FOR (i:Invoice) REQUIRE i.number IS UNIQUE`,
	`CREATE CONSTRAINT setting_key IF NOT EXISTS FOR (s:Setting) REQUIRE s.key IS UNIQUE`,
	`CREATE CONSTRAINT counter_name IF NOT EXISTS FOR (c:Counter) REQUIRE c.name IS UNIQUE`,
	`CREATE INDEX article_status IF NOT EXISTS FOR (a:Article) ON (a.status)`,
	`CREATE INDEX comment_status IF NOT EXISTS FOR (c:Comment) ON (c.status)`,
	`CREATE INDEX invoice_status IF NOT EXISTS FOR (i:Invoice) ON (i.status)`,
}

// ReportNames lists the reports RunQuery understands, in display order.
var ReportNames = []string{
	"total_users",
	"top_categories",
	"top_commented_articles",
	"top_viewed_articles",
	"invoice_totals_by_status",
	"top_clients",
	"newest_users",
}

var reportQueries = map[string]string{
	// всего пользователей по ролям
	"total_users": `
		MATCH (u:User)
		RETURN u.role AS role, COUNT(u) AS total_users
		ORDER BY role
	`,
	// топ 5 рубрик по количеству опубликованных статей
	"top_categories": `
		MATCH (a:Article {status: 'published'})-[:IN_CATEGORY]->(c:Category)
		RETURN c.name AS category, COUNT(a) AS articles
		ORDER BY articles DESC, category
		LIMIT 5
	`,
	// топ 5 статей по одобренным комментариям
	"top_commented_articles": `
		MATCH (c:Comment {status: 'approved'})-[:ON]->(a:Article)
		RETURN a.title AS title, a.slug AS slug, COUNT(c) AS comments
		ORDER BY comments DESC, title
		LIMIT 5
	`,
	// топ 5 статей по просмотрам
	"top_viewed_articles": `
		MATCH (a:Article {status: 'published'})
		RETURN a.title AS title, a.slug AS slug, a.views AS views
		ORDER BY views DESC, title
		LIMIT 5
	`,
	// суммы счетов по статусам
	"invoice_totals_by_status": `
		MATCH (i:Invoice)
		RETURN i.status AS status, COUNT(i) AS invoices, SUM(i.total_cents) AS total_cents
		ORDER BY status
	`,
	// клиенты с наибольшей суммой оплаченных счетов
	"top_clients": `
		MATCH (i:Invoice {status: 'paid'})-[:BILLED_TO]->(u:User)
		RETURN u.email AS email, u.name AS name, SUM(i.total_cents) AS paid_cents
		ORDER BY paid_cents DESC, email
		LIMIT 5
	`,
	// последние зарегистрированные
	"newest_users": `
		MATCH (u:User)
		RETURN u.email AS email, u.name AS name, u.role AS role, u.created_at AS created_at
		ORDER BY u.created_at DESC
		LIMIT 10
	`,
}

// ValidReport reports whether name is a known report query.
func ValidReport(name string) bool {
	_, ok := reportQueries[name]
	return ok
}
