// Package knowledge 加载能力使用说明，为规划提示词与 Agent 指令补充上下文。
package knowledge
