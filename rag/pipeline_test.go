package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/llm/tokenizer"
	"github.com/BaSui01/knowledgeflow/testutil/mocks"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pipelineFixture struct {
	gw      *mocks.MockGateway
	vector  *fakeVector
	lexical *fakeLexical
	graph   *fakeGraph
	p       *Pipeline
}

func newPipelineFixture(gw *mocks.MockGateway) *pipelineFixture {
	f := &pipelineFixture{
		gw:     gw,
		vector: &fakeVector{matches: []VectorMatch{{EntityID: "e1"}}},
		lexical: &fakeLexical{docs: []Document{
			{ID: "e1", Title: "Roadmap", Content: "Q3 roadmap", Source: "notion"},
			{ID: "e2", Title: "Planning", Content: "roadmap review", Source: "feishu"},
		}},
		graph: &fakeGraph{text: "Knowledge graph relations:\n- Roadmap --[OWNED_BY]--> Alice"},
	}
	lookup := &fakeLookup{docs: map[string]Document{"e1": f.lexical.docs[0]}}
	logger := zap.NewNop()
	f.p = NewPipeline(gw,
		NewRewriter(gw, logger),
		NewHybridRetriever(gw, f.vector, f.lexical, lookup, RetrieverConfig{}, nil, logger),
		NewAssembler(gw, tokenizer.NewEstimator(), 0, nil, logger),
		logger,
		WithGraph(f.graph),
	)
	return f
}

func TestPipeline_Run(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway().WithResponse("Search ships in Q3 [source 1]."))

	rc, err := f.p.Run(context.Background(), "What is on the Q3 roadmap?", nil, 5)
	require.NoError(t, err)

	assert.Equal(t, "What is on the Q3 roadmap?", rc.RewrittenQuery)
	assert.Equal(t, []string{"e1", "e2"}, hitIDs(rc.Results))
	assert.Contains(t, rc.GraphContext, "OWNED_BY")
	assert.Equal(t, "Search ships in Q3 [source 1].", rc.Answer)

	// 每个来源都出现在结果中
	ids := map[string]bool{}
	for _, h := range rc.Results {
		ids[h.EntityID] = true
	}
	for _, s := range rc.Sources {
		assert.True(t, ids[s.EntityID], s.EntityID)
	}

	// 空历史不触发改写，只有一次生成调用
	assert.Equal(t, 1, f.gw.CallCount())
}

func TestPipeline_RewritesWithHistory(t *testing.T) {
	gw := mocks.NewMockGateway().WithResponse("Q3 roadmap owner").WithResponse("Alice owns it.")
	f := newPipelineFixture(gw)
	history := []types.HistoryTurn{
		{Role: types.RoleUser, Content: "Tell me about the Q3 roadmap"},
		{Role: types.RoleAssistant, Content: "It focuses on search."},
	}

	rc, err := f.p.Run(context.Background(), "who owns it?", history, 5)
	require.NoError(t, err)

	assert.Equal(t, "who owns it?", rc.Query)
	assert.Equal(t, "Q3 roadmap owner", rc.RewrittenQuery)
	assert.Equal(t, []string{"Q3 roadmap owner"}, f.lexical.texts)
	assert.Equal(t, []string{"Q3 roadmap owner"}, f.graph.seeds)
	assert.Equal(t, "Alice owns it.", rc.Answer)
}

func TestPipeline_UnavailableGateway(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway().WithAvailable(false))

	rc, err := f.p.Run(context.Background(), "anything", nil, 5)
	require.NoError(t, err)

	assert.Equal(t, UnavailableAnswer, rc.Answer)
	assert.Empty(t, rc.Results)
	assert.Empty(t, rc.Sources)
	assert.Empty(t, f.vector.topKs)
	assert.Empty(t, f.lexical.topKs)
	assert.Zero(t, f.gw.CallCount())
}

func TestPipeline_EmptyQuery(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway())

	_, err := f.p.Run(context.Background(), "   ", nil, 5)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestPipeline_GraphFailureDegrades(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway().WithResponse("ok"))
	f.graph.err = errors.New("graph down")
	f.graph.text = ""

	rc, err := f.p.Run(context.Background(), "roadmap", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, rc.GraphContext)
	assert.Equal(t, "ok", rc.Answer)
}

func TestPipeline_SeedIsClipped(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway().WithResponse("ok"))
	long := strings.Repeat("路", 80)

	_, err := f.p.Run(context.Background(), long, nil, 5)
	require.NoError(t, err)
	require.Len(t, f.graph.seeds, 1)
	assert.Equal(t, 50, len([]rune(f.graph.seeds[0])))
}

func TestPipeline_CanceledBeforeGeneration(t *testing.T) {
	f := newPipelineFixture(mocks.NewMockGateway().WithResponse("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc, err := f.p.Run(ctx, "roadmap", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "Request canceled before an answer was generated.", rc.Answer)
	assert.Zero(t, f.gw.CallCount())
}

func TestPipeline_GraphTimeout(t *testing.T) {
	gw := mocks.NewMockGateway().WithResponse("Search ships in Q3.")
	f := newPipelineFixture(gw)
	logger := zap.NewNop()
	p := NewPipeline(gw,
		NewRewriter(gw, logger),
		NewHybridRetriever(gw, f.vector, f.lexical, &fakeLookup{docs: map[string]Document{}}, RetrieverConfig{}, nil, logger),
		NewAssembler(gw, tokenizer.NewEstimator(), 0, nil, logger),
		logger,
		WithGraph(blockingGraph{}),
		WithGraphTimeout(50*time.Millisecond),
	)

	start := time.Now()
	rc, err := p.Run(context.Background(), "What is on the Q3 roadmap?", nil, 5)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, rc.GraphContext)
	assert.Equal(t, "Search ships in Q3.", rc.Answer)
}
