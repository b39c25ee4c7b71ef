package streamadapter

// toolMotivations is a static Chinese-language display label per
// built-in tool name, used by the UI to explain why a tool is being
// called.
var toolMotivations = map[string]string{
	"read_file":            "读取文件内容",
	"write_file":           "写入文件",
	"terminal":             "执行终端命令",
	"python_repl":          "执行 Python 代码",
	"search_knowledge_base": "搜索知识库",
	"memory_search":        "搜索记忆",
	"memory_write":         "写入记忆",
	"fetch_url":            "获取网页内容",
	"plan_create":          "创建任务计划",
	"plan_update":          "更新任务计划",
}

func toolMotivation(tool string) string {
	if m, ok := toolMotivations[tool]; ok {
		return m
	}
	return "调用工具：" + tool
}

// nodeMotivations labels each graph node's LLM calls the same way.
var nodeMotivations = map[string]string{
	"agent":      "调用大模型进行推理",
	"executor":   "执行计划步骤",
	"replanner":  "评估是否需要调整计划",
	"summarizer": "生成计划执行总结",
}

func nodeMotivation(node string) string {
	if m, ok := nodeMotivations[node]; ok {
		return m
	}
	return "调用大模型处理请求"
}
