// Package stub synthesizes the core runtime image: a small WebAssembly
// module exporting the entry points every embeddable image must provide
// (factory, teardown, bind/flush hooks) plus a value table with live-count
// accounting so leaks are observable from the guest side.
package stub

import "bytes"

// Export names the core image provides. Full images built externally must
// export at least the factory and release entry points under these names.
const (
	ExportRuntimeNew  = "runtime-new"
	ExportRuntimeFree = "runtime-free"
	ExportBindSelf    = "bind-self"
	ExportSelfToken   = "self-token"
	ExportFlushLibs   = "flush-libs"
	ExportFlushed     = "flushed"
	ExportSetIndex    = "set-index"
	ExportGetIndex    = "get-index"
	ExportValueNew    = "value-new"
	ExportValueFree   = "value-free"
	ExportLiveCount   = "live-count"
)

// WebAssembly binary constants used by the synthesizer.
const (
	sectionType     = 1
	sectionFunction = 3
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10

	valI64   = 0x7E
	funcType = 0x60
	kindFunc = 0x00
	mutable  = 0x01

	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI64Const  = 0x42
	opI64Add    = 0x7C
	opI64Sub    = 0x7D
	opEnd       = 0x0B
)

// Mutable i64 globals backing the stub runtime state.
const (
	globalNext    = 0 // handle counter, shared by runtime-new and value-new
	globalLive    = 1 // count of live materialized values
	globalSelf    = 2 // token recorded by bind-self
	globalIndex   = 3 // pool slot index recorded by set-index
	globalFlushed = 4 // set once flush-libs has run
)

type funcDef struct {
	name    string
	typeIdx uint32
	body    []byte
}

// Module encodes the stub image as a WebAssembly binary.
func Module() []byte {
	// type 0: () -> i64, type 1: (i64) -> (), type 2: () -> ()
	types := [][]byte{
		{funcType, 0, 1, valI64},
		{funcType, 1, valI64, 0},
		{funcType, 0, 0},
	}

	// next = next + 1; return next
	mintHandle := []byte{
		opGlobalGet, globalNext, opI64Const, 1, opI64Add, opGlobalSet, globalNext,
		opGlobalGet, globalNext, opEnd,
	}
	// next = next + 1; live = live + 1; return next
	mintValue := []byte{
		opGlobalGet, globalNext, opI64Const, 1, opI64Add, opGlobalSet, globalNext,
		opGlobalGet, globalLive, opI64Const, 1, opI64Add, opGlobalSet, globalLive,
		opGlobalGet, globalNext, opEnd,
	}

	funcs := []funcDef{
		{ExportRuntimeNew, 0, mintHandle},
		{ExportRuntimeFree, 1, []byte{opEnd}},
		{ExportBindSelf, 1, []byte{opLocalGet, 0, opGlobalSet, globalSelf, opEnd}},
		{ExportSelfToken, 0, []byte{opGlobalGet, globalSelf, opEnd}},
		{ExportFlushLibs, 2, []byte{opI64Const, 1, opGlobalSet, globalFlushed, opEnd}},
		{ExportFlushed, 0, []byte{opGlobalGet, globalFlushed, opEnd}},
		{ExportSetIndex, 1, []byte{opLocalGet, 0, opGlobalSet, globalIndex, opEnd}},
		{ExportGetIndex, 0, []byte{opGlobalGet, globalIndex, opEnd}},
		{ExportValueNew, 0, mintValue},
		{ExportValueFree, 1, []byte{opGlobalGet, globalLive, opI64Const, 1, opI64Sub, opGlobalSet, globalLive, opEnd}},
		{ExportLiveCount, 0, []byte{opGlobalGet, globalLive, opEnd}},
	}

	w := newWriter()
	w.raw([]byte{0x00, 0x61, 0x73, 0x6D}) // magic
	w.raw([]byte{0x01, 0x00, 0x00, 0x00}) // version

	sec := newWriter()
	sec.u32(uint32(len(types)))
	for _, t := range types {
		sec.raw(t)
	}
	w.section(sectionType, sec.bytes())

	sec = newWriter()
	sec.u32(uint32(len(funcs)))
	for _, f := range funcs {
		sec.u32(f.typeIdx)
	}
	w.section(sectionFunction, sec.bytes())

	sec = newWriter()
	sec.u32(5)
	for i := 0; i < 5; i++ {
		sec.raw([]byte{valI64, mutable, opI64Const, 0, opEnd})
	}
	w.section(sectionGlobal, sec.bytes())

	sec = newWriter()
	sec.u32(uint32(len(funcs)))
	for i, f := range funcs {
		sec.name(f.name)
		sec.byte(kindFunc)
		sec.u32(uint32(i))
	}
	w.section(sectionExport, sec.bytes())

	sec = newWriter()
	sec.u32(uint32(len(funcs)))
	for _, f := range funcs {
		body := newWriter()
		body.u32(0) // no locals
		body.raw(f.body)
		sec.u32(uint32(len(body.bytes())))
		sec.raw(body.bytes())
	}
	w.section(sectionCode, sec.bytes())

	return w.bytes()
}

type writer struct {
	buf bytes.Buffer
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) raw(p []byte) {
	w.buf.Write(p)
}

// u32 writes an unsigned LEB128 value
func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// name writes a length-prefixed UTF-8 name
func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

// section writes a section id followed by its size-prefixed body
func (w *writer) section(id byte, body []byte) {
	w.byte(id)
	w.u32(uint32(len(body)))
	w.raw(body)
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}
