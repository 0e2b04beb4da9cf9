package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const invoiceProjection = `
	OPTIONAL MATCH (i)-[:BILLED_TO]->(cl:User)
	OPTIONAL MATCH (it:InvoiceItem)-[:ITEM_OF]->(i)
	WITH i, cl, it ORDER BY it.position
	WITH i, cl, collect(it {.*}) AS items
	RETURN i {.*, client_id: cl.id, items: items} AS i`

const invoiceOrder = `
	ORDER BY i.issued_at DESC, i.number DESC`

// replaceInvoiceItems drops the old item nodes and links the client.
const replaceInvoiceItems = `
	MATCH (i:Invoice {id: $id})
	OPTIONAL MATCH (old:InvoiceItem)-[:ITEM_OF]->(i)
	DETACH DELETE old
	WITH DISTINCT i
	OPTIONAL MATCH (i)-[r:BILLED_TO]->()
	DELETE r
	WITH DISTINCT i
	MATCH (cl:User {id: $client_id})
	MERGE (i)-[:BILLED_TO]->(cl)
	WITH i
	UNWIND $items AS item
	CREATE (it:InvoiceItem)-[:ITEM_OF]->(i)
	SET it = item`

func invoiceProps(inv *models.Invoice) (map[string]any, []map[string]any) {
	props := invoiceParams(inv)
	items := props["items"].([]map[string]any)
	delete(props, "items")
	delete(props, "client_id")
	return props, items
}

func (s *Neo4jStorage) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	props, items := invoiceProps(inv)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := first(ctx, tx, `MATCH (u:User {id: $id}) RETURN u {.id} AS u`,
			map[string]any{"id": inv.ClientID}, "u"); err != nil {
			return nil, fmt.Errorf("client %s: %w", inv.ClientID, err)
		}
		if err := ensureFree(ctx, tx, "Invoice", "number", inv.Number, ""); err != nil {
			return nil, err
		}
		if _, err := exec(ctx, tx, `CREATE (i:Invoice) SET i = $props`, map[string]any{"props": props}); err != nil {
			return nil, err
		}
		_, err := exec(ctx, tx, replaceInvoiceItems,
			map[string]any{"id": inv.ID, "client_id": inv.ClientID, "items": items})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create invoice %s: %w", inv.Number, err)
	}
	return nil
}

// UpdateInvoice overwrites the invoice only while its stored status is still
// from; otherwise it fails with ErrConflict.
func (s *Neo4jStorage) UpdateInvoice(ctx context.Context, inv *models.Invoice, from models.InvoiceStatus) error {
	props, items := invoiceProps(inv)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		row, err := first(ctx, tx, `
			MATCH (i:Invoice {id: $id})
			SET i._lock = true
			WITH i
			REMOVE i._lock
			WITH i, i.status = $from AS fresh
			FOREACH (_ IN CASE WHEN fresh THEN [1] ELSE [] END | SET i = $props)
			RETURN {fresh: fresh} AS i
			`, map[string]any{"id": inv.ID, "from": string(from), "props": props}, "i")
		if err != nil {
			return nil, err
		}
		if !boolean(row, "fresh") {
			return nil, fmt.Errorf("invoice is no longer %s: %w", from, ErrConflict)
		}
		_, err = exec(ctx, tx, replaceInvoiceItems,
			map[string]any{"id": inv.ID, "client_id": inv.ClientID, "items": items})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (s *Neo4jStorage) GetInvoiceByID(ctx context.Context, id string) (*models.Invoice, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `MATCH (i:Invoice {id: $id})`+invoiceProjection, map[string]any{"id": id}, "i")
	})
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return invoiceFromMap(res.(map[string]any)), nil
}

func (s *Neo4jStorage) ListInvoices(ctx context.Context, f InvoiceFilter) ([]models.Invoice, int, error) {
	page := f.Page.Normalize()
	const where = `
		MATCH (i:Invoice)-[:BILLED_TO]->(fc:User)
		WHERE ($client_id = '' OR fc.id = $client_id)
		  AND ($status = '' OR i.status = $status)
		  AND (NOT $exclude_draft OR i.status <> 'draft')
		WITH i`
	params := map[string]any{
		"client_id":     f.ClientID,
		"status":        string(f.Status),
		"exclude_draft": f.ExcludeDraft,
		"skip":          page.Offset(),
		"limit":         page.Size,
	}
	var total int64
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var err error
		total, err = scalar(ctx, tx, where+` RETURN COUNT(i) AS n`, params, "n")
		if err != nil {
			return nil, err
		}
		return collect(ctx, tx, where+invoiceOrder+` SKIP $skip LIMIT $limit`+invoiceProjection+invoiceOrder, params, "i")
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return invoicesFromRows(res.([]map[string]any)), int(total), nil
}

func (s *Neo4jStorage) ListInvoicesDueBefore(ctx context.Context, status models.InvoiceStatus, t time.Time) ([]models.Invoice, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (i:Invoice {status: $status})
			WHERE i.due_at < $t`+invoiceProjection+`
			ORDER BY i.due_at
			`, map[string]any{"status": string(status), "t": t}, "i")
	})
	if err != nil {
		return nil, fmt.Errorf("list invoices due before %s: %w", t, err)
	}
	return invoicesFromRows(res.([]map[string]any)), nil
}

// NextInvoiceSeq атомарно увеличивает счётчик номеров за год.
func (s *Neo4jStorage) NextInvoiceSeq(ctx context.Context, year int) (int, error) {
	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return scalar(ctx, tx, `
			MERGE (c:Counter {name: $name})
			ON CREATE SET c.value = 0
			SET c.value = c.value + 1
			RETURN c.value AS value
			`, map[string]any{"name": fmt.Sprintf("invoice-%d", year)}, "value")
	})
	if err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return int(res.(int64)), nil
}

func (s *Neo4jStorage) SummarizeInvoices(ctx context.Context) ([]InvoiceSummary, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (i:Invoice)
			WITH i.status AS status, COUNT(i) AS n, SUM(i.total_cents) AS total
			RETURN {status: status, n: n, total: total} AS row
			ORDER BY row.status
			`, nil, "row")
	})
	if err != nil {
		return nil, fmt.Errorf("summarize invoices: %w", err)
	}
	var out []InvoiceSummary
	for _, row := range res.([]map[string]any) {
		out = append(out, InvoiceSummary{
			Status:     models.InvoiceStatus(str(row, "status")),
			Count:      int(i64(row, "n")),
			TotalCents: i64(row, "total"),
		})
	}
	return out, nil
}

func invoicesFromRows(rows []map[string]any) []models.Invoice {
	out := make([]models.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, *invoiceFromMap(row))
	}
	return out
}
