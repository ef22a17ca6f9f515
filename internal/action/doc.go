// Package action 定义面向钱包的动作：名称、描述、参数 schema 与执行逻辑。
//
// A Definition validates raw arguments against its Schema before touching
// the wallet provider, submits at most one transaction and reports a tagged
// Result. Sources such as erc20 and walletops contribute definitions; the
// Registry aggregates them and rejects duplicate names.
package action
