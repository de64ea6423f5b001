package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/testutil"
	"github.com/BaSui01/knowledgeflow/testutil/fixtures"
	"github.com/BaSui01/knowledgeflow/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type stubVector struct {
	matches []rag.VectorMatch
	err     error
}

func (s *stubVector) Search(_ context.Context, _ []float32, topK int, _ rag.Filter) ([]rag.VectorMatch, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.matches) > topK {
		return s.matches[:topK], nil
	}
	return s.matches, nil
}

type recordingWriter struct {
	mu      sync.Mutex
	records []rag.VectorRecord
}

func (w *recordingWriter) Upsert(_ context.Context, rec rag.VectorRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, rec)
	return nil
}

func (w *recordingWriter) Delete(context.Context, string) error { return nil }

type toolsEnv struct {
	db       *gorm.DB
	gateway  *mocks.MockGateway
	vector   *stubVector
	writer   *recordingWriter
	registry *Registry
}

func newToolsEnv(t *testing.T) *toolsEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db := testutil.NewSQLiteDB(t)
	entities := store.NewEntityStore(db, nil, logger)
	graph := store.NewGraphStore(db, nil, logger)

	env := &toolsEnv{
		db:      db,
		gateway: mocks.NewMockGateway(),
		vector:  &stubVector{},
		writer:  &recordingWriter{},
	}
	retriever := rag.NewHybridRetriever(env.gateway, env.vector, entities, entities, rag.RetrieverConfig{}, nil, logger)
	kt := NewKnowledgeTools(entities, retriever, env.gateway, logger,
		WithRelations(graph),
		WithIndexer(rag.NewIndexer(env.gateway, env.writer, logger)),
	)
	env.registry = NewRegistry(nil, logger)
	require.NoError(t, kt.Register(env.registry, 0))
	return env
}

func (e *toolsEnv) call(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	res := e.registry.Execute(context.Background(), fixtures.ToolCall("c1", name, args))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Payload()), &out), res.Payload())
	return out
}

func TestKnowledgeTools_RegistersAll(t *testing.T) {
	env := newToolsEnv(t)
	names := make([]string, 0)
	for _, s := range env.registry.Schemas() {
		names = append(names, s.Name)
		assert.True(t, json.Valid(s.Parameters), s.Name)
	}
	assert.Equal(t, []string{
		"create_entity", "get_entity_detail", "get_statistics", "list_entities", "list_tags",
		"query_graph", "search_knowledge", "summarize_content", "update_entity_tags",
	}, names)
}

func TestKnowledgeTools_QueryGraphRequiresRelations(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	entities := store.NewEntityStore(db, nil, nil)
	reg := NewRegistry(nil, nil)
	require.NoError(t, NewKnowledgeTools(entities, nil, nil, nil).Register(reg, 0))

	_, ok := reg.Resolve("query_graph")
	assert.False(t, ok)
	assert.Equal(t, 8, reg.Len())
}

func TestKnowledgeTools_SearchKnowledge(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 roadmap", strings.Repeat("plan ", 100), "notion")
	testutil.SeedEntity(t, env.db, "e2", "Roadmap review", "roadmap notes", "feishu")
	env.vector.matches = []rag.VectorMatch{{EntityID: "e1", Score: 0.9}}

	out := env.call(t, "search_knowledge", map[string]any{"query": "roadmap", "top_k": 5})
	assert.Equal(t, "roadmap", out["query"])
	assert.EqualValues(t, 2, out["count"])

	results := out["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "e1", first["entity_id"], "vector hits first")
	assert.LessOrEqual(t, len([]rune(first["content"].(string))), 300)
	assert.Equal(t, "e2", results[1].(map[string]any)["entity_id"])
}

func TestKnowledgeTools_SearchKnowledgeVectorDown(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 roadmap", "plan", "notion")
	env.vector.err = errors.New("milvus unreachable")

	out := env.call(t, "search_knowledge", map[string]any{"query": "roadmap"})
	assert.EqualValues(t, 1, out["count"])
}

func TestKnowledgeTools_SearchKnowledgeRequiresQuery(t *testing.T) {
	env := newToolsEnv(t)
	out := env.call(t, "search_knowledge", map[string]any{})
	assert.Contains(t, out["error"], "query is required")
}

func TestKnowledgeTools_GetEntityDetail(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 roadmap", "plan", "notion")
	require.NoError(t, env.db.Create(&store.EntityTag{EntityID: "e1", TagID: "t1", TagType: store.TagTypeContent}).Error)

	out := env.call(t, "get_entity_detail", map[string]any{"entity_id": "e1"})
	assert.Equal(t, "Q3 roadmap", out["title"])
	assert.Equal(t, "plan", out["content"])
	assert.Equal(t, []any{"t1"}, out["tags"])

	out = env.call(t, "get_entity_detail", map[string]any{"entity_id": "nope"})
	assert.Equal(t, map[string]any{"error": "entity not found"}, out)
}

func TestKnowledgeTools_ListEntities(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 roadmap", "", "notion")
	testutil.SeedEntity(t, env.db, "e2", "Groceries", "", "notion")
	testutil.SeedEntity(t, env.db, "e3", "Roadmap v2", "", "feishu")

	out := env.call(t, "list_entities", map[string]any{"keyword": "roadmap", "source": "notion"})
	ents := out["entities"].([]any)
	require.Len(t, ents, 1)
	assert.Equal(t, "e1", ents[0].(map[string]any)["id"])

	out = env.call(t, "list_entities", map[string]any{"limit": 2})
	assert.Len(t, out["entities"], 2)
}

func TestKnowledgeTools_QueryGraph(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 Roadmap", "", "notion")
	testutil.SeedEntity(t, env.db, "e2", "Search project", "", "notion")
	testutil.SeedRelation(t, env.db, "e2", "e1", "PART_OF")

	out := env.call(t, "query_graph", map[string]any{"entity_title": "Roadmap"})
	assert.Equal(t, "Roadmap", out["entity"])
	rels := out["relations"].([]any)
	require.Len(t, rels, 1)
	assert.Equal(t, map[string]any{
		"entity": "Q3 Roadmap", "relation": "PART_OF", "related_entity": "Search project",
	}, rels[0])
}

func TestKnowledgeTools_ListTags(t *testing.T) {
	env := newToolsEnv(t)
	require.NoError(t, env.db.Create(&store.FolderTag{ID: "f1", Name: "Work"}).Error)
	require.NoError(t, env.db.Create(&store.ContentTag{ID: "c1", Name: "idea"}).Error)

	out := env.call(t, "list_tags", map[string]any{})
	assert.Contains(t, out, "folder_tags")
	assert.Contains(t, out, "content_tags")
	assert.Contains(t, out, "status_dimensions")

	out = env.call(t, "list_tags", map[string]any{"tag_type": "content"})
	assert.Len(t, out, 1)
	assert.Len(t, out["content_tags"], 1)
}

func TestKnowledgeTools_CreateEntityIndexes(t *testing.T) {
	env := newToolsEnv(t)

	out := env.call(t, "create_entity", map[string]any{"title": "New idea", "content": "<p>draft</p>"})
	assert.Equal(t, "created", out["status"])
	assert.Equal(t, "New idea", out["title"])
	id := out["entity_id"].(string)
	require.NotEmpty(t, id)

	var e store.Entity
	require.NoError(t, env.db.First(&e, "id = ?", id).Error)
	assert.Equal(t, "agent", e.Source)
	assert.Equal(t, "agent", e.CreatedBy)
	assert.Equal(t, store.ReviewPending, e.ReviewStatus)

	require.Len(t, env.writer.records, 1)
	assert.Equal(t, id, env.writer.records[0].EntityID)
	assert.Equal(t, "draft", env.writer.records[0].Preview)
}

func TestKnowledgeTools_CreateEntityIndexFailureIgnored(t *testing.T) {
	env := newToolsEnv(t)
	env.gateway.WithEmbedError(errors.New("embedding quota"))

	out := env.call(t, "create_entity", map[string]any{"title": "Still saved", "content": "x"})
	assert.Equal(t, "created", out["status"])
	assert.Empty(t, env.writer.records)
}

func TestKnowledgeTools_UpdateEntityTags(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "Q3 roadmap", "", "notion")
	require.NoError(t, env.db.Create(&store.FolderTag{ID: "f1", Name: "Work"}).Error)
	require.NoError(t, env.db.Create(&store.ContentTag{ID: "c1", Name: "plan"}).Error)

	out := env.call(t, "update_entity_tags", map[string]any{
		"entity_id":    "e1",
		"folder_tags":  []string{"Work", "Missing"},
		"content_tags": []string{"plan"},
	})
	assert.Equal(t, "e1", out["entity_id"])
	assert.Equal(t, []any{"folder:Work", "content:plan"}, out["tags_added"])

	out = env.call(t, "update_entity_tags", map[string]any{"entity_id": "ghost", "folder_tags": []string{"Work"}})
	assert.Equal(t, map[string]any{"error": "entity not found"}, out)
}

func TestKnowledgeTools_SummarizeContent(t *testing.T) {
	env := newToolsEnv(t)
	env.gateway.WithResponse("A short summary.")

	out := env.call(t, "summarize_content", map[string]any{
		"content": strings.Repeat("长", 4000),
		"style":   "bullet_points",
	})
	assert.Equal(t, "A short summary.", out["summary"])

	call, ok := env.gateway.LastCall()
	require.True(t, ok)
	require.Len(t, call.Messages, 1)
	assert.True(t, strings.HasPrefix(call.Messages[0].Content, summaryPrompts["bullet_points"]))
	assert.Equal(t, 3000, strings.Count(call.Messages[0].Content, "长"))
	assert.InDelta(t, 0.3, call.Options.Temperature, 0.001)
	assert.Equal(t, 1024, call.Options.MaxTokens)
}

func TestKnowledgeTools_SummarizeUnknownStyleFallsBack(t *testing.T) {
	env := newToolsEnv(t)
	env.gateway.WithResponse("ok")

	env.call(t, "summarize_content", map[string]any{"content": "text", "style": "haiku"})
	call, _ := env.gateway.LastCall()
	assert.True(t, strings.HasPrefix(call.Messages[0].Content, summaryPrompts["brief"]))
}

func TestKnowledgeTools_GetStatistics(t *testing.T) {
	env := newToolsEnv(t)
	testutil.SeedEntity(t, env.db, "e1", "A", "", "notion")
	testutil.SeedEntity(t, env.db, "e2", "B", "", "feishu")

	out := env.call(t, "get_statistics", nil)
	assert.EqualValues(t, 2, out["total_entities"])
	assert.Equal(t, map[string]any{"notion": float64(1), "feishu": float64(1)}, out["by_source"])
	assert.Equal(t, map[string]any{store.ReviewApproved: float64(2)}, out["by_review_status"])
	assert.EqualValues(t, 0, out["content_tag_count"])
}
