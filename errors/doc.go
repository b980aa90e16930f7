// Package errors provides structured error types for vlsim.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the signal path, the external command line when one
// was involved, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBuild, errors.KindBuildFailed).
//		Command("make -C obj_dir -f Vcounter.mk").
//		Detail("exit status 2").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NoSuchSignal("counter", "q")
//	err := errors.NotWritable("q")
//
// errors.Is matches on Phase and Kind. HasKind matches on Kind alone, which is
// what callers usually want when the same failure can arise in several phases:
//
//	if errors.HasKind(err, errors.KindToolNotFound) { ... }
package errors
