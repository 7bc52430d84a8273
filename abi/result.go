// Package abi realizes spec.md §6's frozen C-ABI surface: a packed Result
// code and a ThunkTable of Mojo<Verb> entry points bound to one process-wide
// *mojocore.Core. Staying in pure Go, the table is Go function values
// rather than cgo function pointers, and options structs are passed as Go
// values rather than decoded off raw little-endian bytes; the packing and
// ordering rules themselves are followed literally.
package abi

import "github.com/xtaci/mojocore"

// Space identifies which error space a Result's code belongs to. This
// layer only ever produces SpaceSystem.
type Space uint16

const SpaceSystem Space = 0

// Result packs (code: 8 | space: 16 | subcode: 8) into a 32-bit value, per
// spec.md §6.
type Result uint32

func MakeResult(code mojocore.Code, space Space, subcode mojocore.Subcode) Result {
	return Result(uint32(code)<<24 | uint32(space)<<8 | uint32(subcode))
}

func (r Result) Code() mojocore.Code       { return mojocore.Code(r >> 24) }
func (r Result) Space() Space              { return Space((r >> 8) & 0xffff) }
func (r Result) Subcode() mojocore.Subcode { return mojocore.Subcode(r & 0xff) }

func (r Result) OK() bool { return r.Code() == mojocore.CodeOK }

// packError translates an error returned by a mojocore.Core method into a
// Result, preserving code and subcode when it is one of ours.
func packError(err error) Result {
	if err == nil {
		return MakeResult(mojocore.CodeOK, SpaceSystem, mojocore.SubcodeNone)
	}
	if e, ok := err.(*mojocore.Error); ok {
		return MakeResult(e.Code, SpaceSystem, e.Subcode)
	}
	return MakeResult(mojocore.CodeUnknown, SpaceSystem, mojocore.SubcodeNone)
}
