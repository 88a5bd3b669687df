// Package planner 把自然语言任务拆分为若干子任务，并为每个子任务生成一个
// 经过能力目录校验的能力集合。推理引擎只负责给出结构化的拆分结果，
// 名称校验与过滤在本包完成。
package planner
