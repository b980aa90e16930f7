// Package names converts between Verilator's flattened C++ identifiers and
// hierarchical signal paths.
//
// Verilator joins hierarchy levels with "__DOT__" and escapes every byte that
// is not a legal identifier character as "__0XX" (two uppercase hex digits).
// A doubled underscore is escaped too, so neither marker can appear by
// accident inside a user name.
//
//	p, _ := names.Decode("counter__DOT__u_alu__DOT__acc__024r")
//	p.Dotted() // "counter.u_alu.acc$r"
//
// Array element markers (__BRA__, __KET__) are not supported and produce an
// error of kind KindUnsupportedName.
package names
