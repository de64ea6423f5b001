package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/tlsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Milvus 集合字段
const (
	milvusPrimaryField = "id"
	milvusEntityField  = "entity_id"
	milvusVectorField  = "embedding"
	milvusPreviewField = "text_preview"
	milvusSourceField  = "source"

	milvusPreviewMax = 512
)

// milvusNamespace 用于从实体 ID 生成稳定的主键
var milvusNamespace = uuid.MustParse("a1b2c3d4-e5f6-7890-abcd-ef1234567890")

func milvusPointID(entityID string) string {
	return uuid.NewSHA1(milvusNamespace, []byte(entityID)).String()
}

// MilvusIndex 基于 Milvus REST API (v2) 的向量索引
type MilvusIndex struct {
	cfg     config.MilvusConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureMu sync.Mutex
	ensured  bool
}

var (
	_ VectorIndex  = (*MilvusIndex)(nil)
	_ VectorWriter = (*MilvusIndex)(nil)
)

// NewMilvusIndex 创建 Milvus 向量索引
func NewMilvusIndex(cfg config.MilvusConfig, logger *zap.Logger) *MilvusIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 19530
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.MetricType == "" {
		cfg.MetricType = "COSINE"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &MilvusIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "milvus_index")),
	}
}

func (m *MilvusIndex) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	}
}

// doJSON 发送请求并解码响应。Milvus 出错时也可能返回 200，需要检查 code 字段。
func (m *MilvusIndex) doJSON(ctx context.Context, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	m.applyHeaders(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var base struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(respBody, &base); err == nil && base.Code != 0 {
		return fmt.Errorf("milvus error: code=%d message=%s", base.Code, base.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("milvus request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (m *MilvusIndex) collectionRef() map[string]any {
	return map[string]any{
		"dbName":         m.cfg.Database,
		"collectionName": m.cfg.Collection,
	}
}

// EnsureCollection 集合不存在时创建集合、索引并加载。成功后不再重复检查。
func (m *MilvusIndex) EnsureCollection(ctx context.Context) error {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()
	if m.ensured {
		return nil
	}
	if strings.TrimSpace(m.cfg.Collection) == "" {
		return fmt.Errorf("milvus collection name is required")
	}
	if m.cfg.VectorDimension <= 0 {
		return fmt.Errorf("milvus vector dimension must be > 0")
	}

	var has struct {
		Data struct {
			Has bool `json:"has"`
		} `json:"data"`
	}
	if err := m.doJSON(ctx, "/v2/vectordb/collections/has", m.collectionRef(), &has); err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}

	if !has.Data.Has {
		if err := m.createCollection(ctx); err != nil {
			return err
		}
		m.logger.Info("collection created",
			zap.String("collection", m.cfg.Collection),
			zap.Int("dimension", m.cfg.VectorDimension))
	}

	if err := m.doJSON(ctx, "/v2/vectordb/collections/load", m.collectionRef(), nil); err != nil {
		return fmt.Errorf("load collection %s: %w", m.cfg.Collection, err)
	}
	m.ensured = true
	return nil
}

func (m *MilvusIndex) createCollection(ctx context.Context) error {
	req := m.collectionRef()
	req["schema"] = map[string]any{
		"autoId":             false,
		"enableDynamicField": true,
		"fields": []map[string]any{
			{"fieldName": milvusPrimaryField, "dataType": "VarChar", "isPrimary": true,
				"elementTypeParams": map[string]any{"max_length": 64}},
			{"fieldName": milvusEntityField, "dataType": "VarChar",
				"elementTypeParams": map[string]any{"max_length": 256}},
			{"fieldName": milvusVectorField, "dataType": "FloatVector",
				"elementTypeParams": map[string]any{"dim": m.cfg.VectorDimension}},
			{"fieldName": milvusPreviewField, "dataType": "VarChar",
				"elementTypeParams": map[string]any{"max_length": milvusPreviewMax}},
			{"fieldName": milvusSourceField, "dataType": "VarChar",
				"elementTypeParams": map[string]any{"max_length": 64}},
		},
	}
	req["indexParams"] = []map[string]any{{
		"fieldName":  milvusVectorField,
		"indexName":  milvusVectorField + "_idx",
		"metricType": m.cfg.MetricType,
		"indexType":  "IVF_FLAT",
		"params":     map[string]any{"nlist": 128},
	}}

	if err := m.doJSON(ctx, "/v2/vectordb/collections/create", req, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", m.cfg.Collection, err)
	}
	return nil
}

// Search 返回与 vec 最相似的 topK 个实体
func (m *MilvusIndex) Search(ctx context.Context, vec []float32, topK int, filter Filter) ([]VectorMatch, error) {
	if topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	if err := m.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	req := m.collectionRef()
	req["data"] = [][]float32{vec}
	req["annsField"] = milvusVectorField
	req["limit"] = topK
	req["outputFields"] = []string{milvusEntityField, milvusPreviewField, milvusSourceField}
	req["searchParams"] = map[string]any{"metricType": m.cfg.MetricType, "params": map[string]any{"nprobe": 16}}
	if expr := milvusFilter(filter); expr != "" {
		req["filter"] = expr
	}

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	if err := m.doJSON(ctx, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	matches := make([]VectorMatch, 0, len(resp.Data))
	for _, row := range resp.Data {
		id, _ := row[milvusEntityField].(string)
		if id == "" {
			continue
		}
		distance, _ := row["distance"].(float64)
		preview, _ := row[milvusPreviewField].(string)
		source, _ := row[milvusSourceField].(string)
		matches = append(matches, VectorMatch{
			EntityID: id,
			Score:    m.distanceToScore(distance),
			Preview:  preview,
			Source:   source,
		})
	}
	return matches, nil
}

// Upsert 写入或覆盖实体向量
func (m *MilvusIndex) Upsert(ctx context.Context, rec VectorRecord) error {
	if rec.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if len(rec.Embedding) != m.cfg.VectorDimension {
		return fmt.Errorf("embedding dimension mismatch: got=%d want=%d", len(rec.Embedding), m.cfg.VectorDimension)
	}
	if err := m.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	req := m.collectionRef()
	req["data"] = []map[string]any{{
		milvusPrimaryField: milvusPointID(rec.EntityID),
		milvusEntityField:  rec.EntityID,
		milvusVectorField:  rec.Embedding,
		milvusPreviewField: Clip(rec.Preview, milvusPreviewMax/4),
		milvusSourceField:  rec.Source,
	}}
	if err := m.doJSON(ctx, "/v2/vectordb/entities/upsert", req, nil); err != nil {
		return fmt.Errorf("upsert entity %s: %w", rec.EntityID, err)
	}
	m.logger.Debug("vector upserted", zap.String("entity_id", rec.EntityID))
	return nil
}

// Delete 删除实体向量
func (m *MilvusIndex) Delete(ctx context.Context, entityID string) error {
	if strings.TrimSpace(entityID) == "" {
		return nil
	}
	req := m.collectionRef()
	req["filter"] = fmt.Sprintf(`%s in ["%s"]`, milvusPrimaryField, milvusPointID(entityID))
	if err := m.doJSON(ctx, "/v2/vectordb/entities/delete", req, nil); err != nil {
		return fmt.Errorf("delete entity %s: %w", entityID, err)
	}
	return nil
}

// Count 返回集合中的向量数
func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Data struct {
			RowCount int `json:"rowCount"`
		} `json:"data"`
	}
	if err := m.doJSON(ctx, "/v2/vectordb/collections/get_stats", m.collectionRef(), &resp); err != nil {
		return 0, fmt.Errorf("get collection stats: %w", err)
	}
	return resp.Data.RowCount, nil
}

// distanceToScore 将 Milvus 距离转换为越大越相似的分数
func (m *MilvusIndex) distanceToScore(distance float64) float64 {
	switch m.cfg.MetricType {
	case "IP", "COSINE":
		return distance
	case "L2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance
	}
}

func milvusFilter(f Filter) string {
	if f.Source == "" {
		return ""
	}
	return fmt.Sprintf(`%s == "%s"`, milvusSourceField, escapeMilvusString(f.Source))
}

func escapeMilvusString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
