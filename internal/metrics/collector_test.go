package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.retrievalSourceTotal)
	assert.NotNil(t, collector.toolCallsTotal)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		c.RecordLLMRequest("complete", "m", "ok", time.Millisecond, 1, 1)
		c.RecordRAGTurn("answered", time.Millisecond)
		c.RecordRetrievalSource("vector", 1, nil)
		c.RecordPromptTokens(10)
		c.RecordAgentRun("done", 1)
		c.RecordToolCall("list_tags", false, time.Millisecond)
		c.RecordCacheHit("rewrite")
		c.RecordCacheMiss("rewrite")
		c.RecordDBConnections("main", 1, 1)
		c.RecordDBQuery("main", "select", time.Millisecond)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/search", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/api/v1/search", 503, 100*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/search", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/search", "5xx")))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLLMRequest("complete", "gpt-4o-mini", "ok", time.Second, 120, 30)
	collector.RecordLLMRequest("embed", "text-embedding-3-small", "ok", time.Second, 0, 0)

	assert.Equal(t, float64(120), testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("gpt-4o-mini", "prompt")))
	assert.Equal(t, float64(30), testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("gpt-4o-mini", "completion")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.llmRequestsTotal))
}

func TestCollector_RecordRetrievalSource(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRetrievalSource("vector", 10, nil)
	collector.RecordRetrievalSource("lexical", 0, errors.New("db down"))

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.retrievalSourceTotal.WithLabelValues("vector", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.retrievalSourceTotal.WithLabelValues("lexical", "error")))
}

func TestCollector_RecordAgentAndTools(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAgentRun("exhausted", 8)
	collector.RecordToolCall("search_knowledge", false, 10*time.Millisecond)
	collector.RecordToolCall("search_knowledge", true, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.agentRunsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("search_knowledge", "error")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("rewrite")
	collector.RecordCacheHit("rewrite")
	collector.RecordCacheMiss("rewrite")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheHits.WithLabelValues("rewrite")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("rewrite")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordRAGTurn("answered", time.Millisecond)
			collector.RecordDBQuery("main", "select", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(50), testutil.ToFloat64(collector.ragTurnsTotal.WithLabelValues("answered")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(201))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(502))
	assert.Equal(t, "unknown", statusCode(0))
}
