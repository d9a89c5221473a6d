// Package triage provides the business boundary for Vulnhalla's finding
// triage system. It defines the Engine (bounded LLM conversation with tool
// mediation), the verdict and status-code contract, the initial context
// builder, the Store interface (artifact persistence), and domain models.
package triage
