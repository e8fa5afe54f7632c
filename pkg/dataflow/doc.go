// Package dataflow implements the incremental computation substrate the
// plan interpreter builds on: Z-sets over positional tuples (multisets with
// signed integer multiplicities) and the operator algebra that maintains
// them under streams of diffs.
//
// Operator taxonomy:
//   - Linear: derivation/selection, multiplicity passthrough; already
//     incremental as-is.
//   - Bilinear: joins; incrementalized with the three-term expansion
//     Δ(A ⋈ B) = ΔA ⋈ ΔB + A ⋈ ΔB + ΔA ⋈ B.
//   - Nonlinear: distinct; lifted with D ∘ op ∘ I.
//   - Structural: addition, subtraction, negation of Z-sets.
//
// Integrator, differentiator and delay operators give the loop plumbing for
// fixpoint evaluation. The worker pool and partition helpers shard deltas by
// key hash so stateful operators can run data-parallel within a step.
package dataflow
