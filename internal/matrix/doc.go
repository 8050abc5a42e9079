// Package matrix expands a pipeline definition into its concrete legs.
//
// Expansion follows three steps:
//
//  1. The axis product: every version on the language's version axis is
//     combined with every env jobs entry. An empty axis contributes a
//     single empty slot, so a definition with three versions and no env
//     axis still yields three legs.
//
//  2. Exclusion: matrix.exclude selectors drop axis legs whose
//     coordinates (language, version, dist, env entry) equal every field
//     the selector sets. Selectors never touch include legs.
//
//  3. Inclusion: matrix.include entries append one leg each, in file
//     order. An include leg inherits the shared dist, env globals,
//     install, script and snaps; any of these it declares itself replace
//     the shared value entirely. Install and script never merge.
//
// matrix.allow_failures selectors run over the final leg list, axis and
// include legs alike, and mark matching legs as not counting toward the
// run verdict.
//
// Leg order is deterministic: axis legs in declaration order (versions
// outer, env entries inner), then include legs in file order. Indexes are
// assigned after exclusion, starting at 1.
package matrix
