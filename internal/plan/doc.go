// Package plan holds the central Plan record and its lifecycle.
//
// A Plan is one user's paid document-generation job: questionnaire input,
// payment correlation, generation progress, and the finished document. State
// only moves forward (draft -> paid -> generating -> terminal); every transition
// is a single conditional update at the store layer so concurrent callers
// cannot double-advance a plan.
package plan
