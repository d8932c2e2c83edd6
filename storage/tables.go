package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"planit/domain"
)

const (
	tracerName = "planit/storage"
	// composite values are stored as JSON strings under <field>_json
	jsonSuffix = "_json"
)

// entityTable is the subset of the Azure table client used by Tables.
type entityTable interface {
	insert(ctx context.Context, payload []byte) error
	merge(ctx context.Context, payload []byte) error
	remove(ctx context.Context, partitionKey, rowKey string) error
	list(ctx context.Context, filter string) ([][]byte, error)
}

type azureTable struct {
	client *aztables.Client
}

func (t azureTable) insert(ctx context.Context, payload []byte) error {
	_, err := t.client.AddEntity(ctx, payload, nil)
	return err
}

func (t azureTable) merge(ctx context.Context, payload []byte) error {
	et := azcore.ETagAny
	_, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (t azureTable) remove(ctx context.Context, partitionKey, rowKey string) error {
	et := azcore.ETagAny
	_, err := t.client.DeleteEntity(ctx, partitionKey, rowKey, &aztables.DeleteEntityOptions{IfMatch: &et})
	return err
}

func (t azureTable) list(ctx context.Context, filter string) ([][]byte, error) {
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

// Tables stores task and project documents in Azure Table Storage. The
// collection path becomes the partition key and the document id the row key.
type Tables struct {
	todos    entityTable
	projects entityTable
	tracer   trace.Tracer
	newID    func() string
}

// NewTables connects to the todos and projects tables.
func NewTables(connStr, todosTable, projectsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTables(azureTable{svc.NewClient(todosTable)}, azureTable{svc.NewClient(projectsTable)}), nil
}

func newTables(todos, projects entityTable) *Tables {
	return &Tables{
		todos:    todos,
		projects: projects,
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
	}
}

func (t *Tables) table(collection string) (entityTable, error) {
	switch domain.CollectionKind(collection) {
	case "todos":
		return t.todos, nil
	case "projects":
		return t.projects, nil
	default:
		return nil, fmt.Errorf("no table for collection %q", collection)
	}
}

func (t *Tables) start(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "storage.tables."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", op),
			attribute.String("planit.collection", domain.CollectionKind(collection)),
		),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Tables) Query(ctx context.Context, collection string, filters ...Filter) (docs []Document, err error) {
	ctx, span := t.start(ctx, "query", collection)
	defer func() { finish(span, err) }()

	tbl, err := t.table(collection)
	if err != nil {
		return nil, err
	}
	raw, err := tbl.list(ctx, odataFilter(partitionKey(collection), filters))
	if err != nil {
		return nil, err
	}
	docs = make([]Document, 0, len(raw))
	for _, payload := range raw {
		doc, err := decodeEntity(payload)
		if err != nil {
			return nil, err
		}
		if !matchAll(filters, doc.Fields) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return createdAt(docs[i]).Before(createdAt(docs[j]))
	})
	span.SetAttributes(attribute.Int("planit.documents", len(docs)))
	return docs, nil
}

func (t *Tables) Create(ctx context.Context, collection string, fields map[string]any) (id string, err error) {
	ctx, span := t.start(ctx, "create", collection)
	defer func() { finish(span, err) }()

	tbl, err := t.table(collection)
	if err != nil {
		return "", err
	}
	id = t.newID()
	payload, err := encodeEntity(partitionKey(collection), id, fields)
	if err != nil {
		return "", err
	}
	if err := tbl.insert(ctx, payload); err != nil {
		return "", classify("create", domain.DocPath(collection, id), err)
	}
	return id, nil
}

func (t *Tables) Update(ctx context.Context, path string, fields map[string]any) (err error) {
	collection, id, err := domain.SplitDocPath(path)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "update", collection)
	defer func() { finish(span, err) }()

	tbl, err := t.table(collection)
	if err != nil {
		return err
	}
	payload, err := encodeEntity(partitionKey(collection), id, fields)
	if err != nil {
		return err
	}
	if err := tbl.merge(ctx, payload); err != nil {
		return classify("update", path, err)
	}
	return nil
}

func (t *Tables) Delete(ctx context.Context, path string) (err error) {
	collection, id, err := domain.SplitDocPath(path)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "delete", collection)
	defer func() { finish(span, err) }()

	tbl, err := t.table(collection)
	if err != nil {
		return err
	}
	if err := tbl.remove(ctx, partitionKey(collection), id); err != nil {
		err = classify("delete", path, err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func classify(op, path string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
		case 409, 412:
			return fmt.Errorf("%s %s: %w", op, path, ErrConcurrencyConflict)
		}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

// partitionKey encodes a collection path; '/' is not allowed in keys.
func partitionKey(collection string) string {
	return strings.ReplaceAll(collection, "/", "|")
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// odataFilter pushes string equality filters to the service; anything else
// is matched after decoding.
func odataFilter(pk string, filters []Filter) string {
	clauses := []string{"PartitionKey eq " + quote(pk)}
	for _, f := range filters {
		if s, ok := f.Value.(string); ok {
			clauses = append(clauses, f.Field+" eq "+quote(s))
		}
	}
	return strings.Join(clauses, " and ")
}

func encodeEntity(pk, rk string, fields map[string]any) ([]byte, error) {
	ent := map[string]any{
		"PartitionKey": pk,
		"RowKey":       rk,
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string, bool, int, nil:
			ent[k] = val
		case float64:
			ent[k] = val
			ent[k+"@odata.type"] = "Edm.Double"
		case time.Time:
			ent[k] = val.UTC().Format(time.RFC3339Nano)
		case domain.Position:
			data, err := sonic.Marshal(domain.PositionValue(val))
			if err != nil {
				return nil, err
			}
			ent[k+jsonSuffix] = string(data)
		default:
			data, err := sonic.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode field %s: %w", k, err)
			}
			ent[k+jsonSuffix] = string(data)
		}
	}
	return sonic.Marshal(ent)
}

func decodeEntity(payload []byte) (Document, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		return Document{}, err
	}
	id, _ := raw["RowKey"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		switch {
		case k == "PartitionKey" || k == "RowKey" || k == "Timestamp":
			continue
		case strings.Contains(k, "odata"):
			continue
		case strings.HasSuffix(k, jsonSuffix):
			s, ok := v.(string)
			if !ok {
				continue
			}
			var decoded any
			if err := sonic.UnmarshalString(s, &decoded); err != nil {
				return Document{}, fmt.Errorf("decode field %s: %w", k, err)
			}
			fields[strings.TrimSuffix(k, jsonSuffix)] = decoded
		default:
			fields[k] = v
		}
	}
	return Document{ID: id, Fields: fields}, nil
}

func createdAt(d Document) time.Time {
	s, _ := d.Fields[domain.FieldCreatedAt].(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
