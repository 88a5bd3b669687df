// Package llm 定义推理引擎的统一接口。具体厂商的适配位于子包 openai 与
// gemini 中，上层只依赖本包的消息、工具与结构化输出类型。
package llm
