// Package toolkit 把动作注册表绑定到一个钱包 provider，暴露为 agent 可调用的工具。
//
// Every Tool implements the agentsdk-go tool.Tool interface and also offers
// Invoke, which returns the same text the agent sees.
package toolkit
