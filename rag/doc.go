/*
Package rag 实现对话式检索引擎的检索增强生成管线。

# 流程

一轮 RAG 依次经过以下阶段：

  - [Rewriter]：结合最近 6 轮历史把追问改写为独立查询，失败回退原始查询
  - [HybridRetriever]：向量检索（2×topK）与词法检索（topK）并发执行，
    通过 [FuseRRF] 倒数排名融合，单路失败只降级不报错
  - [GraphStore]：以查询前 50 个字符为种子补充实体关系
  - [Assembler]：渲染 "[source N]" 参考资料段落，按 token 预算裁剪后生成回答

[Pipeline] 串联以上阶段，网关不可用时直接返回 [UnavailableAnswer]。

# 向量后端

  - [MilvusIndex]：Milvus REST v2
  - [PgVectorIndex]：postgres + pgvector

[Indexer] 负责把新建实体向量化并写入后端。[StreamTokens] 把回答切分为
固定长度的流式片段。
*/
package rag
