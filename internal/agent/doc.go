// Package agent runs an LLM agent on top of the wallet toolkit. The model
// sees only the wallet tools; no shell or file tools are registered.
package agent
