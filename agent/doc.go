/*
Package agent provides the tool-calling loop used by the agent chat mode.

# Overview

[Runner] drives an explicit state machine:

	awaiting_model ──tool calls──▶ executing_tools ──▶ awaiting_model
	      │                                                 │
	      ├── final text / LLM failure / canceled ──▶ done  │
	      └── MaxIterations model calls ──▶ exhausted ◀─────┘

Each model call sends every schema in the [Registry] with tool_choice=auto.
Tool calls run sequentially in the order the model requested them, and every
result (including failures, encoded as {"error": "..."}) is fed back as a tool
message carrying the call id.

# Tools

[Registry] owns tool schemas, per-tool timeouts and optional token-bucket rate
limits. [Registry.Execute] never returns an error: unknown tools, malformed
arguments, timeouts and panics all become structured tool results.

[KnowledgeTools] registers the knowledge-base tool set (search_knowledge,
get_entity_detail, list_entities, query_graph, list_tags, create_entity,
update_entity_tags, summarize_content, get_statistics) over the store and rag
packages.
*/
package agent
