// Package pattern parses the annotation language attached to declarations.
//
// An annotation block is a sequence of comment lines of the form
//
//	/// @pattern 48 89 5C 24 ? E8 (fn:rel) 33 C0
//	/// @nth 1/3
//	/// @offset -4
//	/// @eval *(*fn + 2)
//
// The @pattern directive carries a byte template made of hex literals, single
// byte wildcards (?) and named capture groups. Capture groups are fixed width:
// rel captures hold a 32-bit signed displacement, abs captures hold an address
// as wide as the target image's pointers. Integer literals in @eval count
// pointer-sized slots rather than bytes, which keeps virtual table indices
// portable between 32 and 64-bit targets.
//
// The package produces a Spec; it performs no I/O and knows nothing about the
// image being searched.
package pattern
