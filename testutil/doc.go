/*
Package testutil 提供 KnowledgeFlow 测试共享的数据库与数据辅助。

  - NewSQLiteDB 打开已建表的内存 sqlite（glebarez 纯 Go 驱动）
  - SeedEntity / SeedRelation 写入已审核实体与实体关系
  - Collect 收集 iter.Seq，用于断言流式事件

# 子包

  - testutil/mocks: MockGateway（脚本化 llm.Gateway）与 MockTool
    （可注入错误、panic、延迟的工具函数），均支持 Builder 模式
  - testutil/fixtures: Completion、ToolCall 与历史对话样例

testutil 依赖 store，因此 store 与 rag 的包内测试不能导入它；
rag 的测试只依赖 mocks。

	gw := mocks.NewMockGateway().WithResponse("hello")
	db := testutil.NewSQLiteDB(t)
	testutil.SeedEntity(t, db, "e1", "Q3 roadmap", "plan", "notion")
*/
package testutil
