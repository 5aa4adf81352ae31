// Package box implements decoding and encoding of ISO Base Media File Format boxes.
//
// A decoded Box owns its payload: container boxes own their children, a
// small set of well-known boxes expose typed fields, and every other box
// keeps its payload as an opaque byte slice. Encoding an unmodified tree
// reproduces the input byte for byte.
package box

// Type is a 4-byte box type identifier.
type Type [4]byte

func (t Type) String() string {
	return string(t[:])
}

// StrToType converts a 4-character string into a Type.
// Shorter strings are padded with spaces.
func StrToType(s string) Type {
	t := Type{' ', ' ', ' ', ' '}
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = Type{'f', 't', 'y', 'p'}
	TypeStyp = Type{'s', 't', 'y', 'p'}
	TypeMoov = Type{'m', 'o', 'o', 'v'}
	TypeTrak = Type{'t', 'r', 'a', 'k'}
	TypeEdts = Type{'e', 'd', 't', 's'}
	TypeMdia = Type{'m', 'd', 'i', 'a'}
	TypeMinf = Type{'m', 'i', 'n', 'f'}
	TypeDinf = Type{'d', 'i', 'n', 'f'}
	TypeStbl = Type{'s', 't', 'b', 'l'}
	TypeStsd = Type{'s', 't', 's', 'd'}
	TypeStsz = Type{'s', 't', 's', 'z'}
	TypeMvex = Type{'m', 'v', 'e', 'x'}
	TypeTrex = Type{'t', 'r', 'e', 'x'}
	TypeMoof = Type{'m', 'o', 'o', 'f'}
	TypeTraf = Type{'t', 'r', 'a', 'f'}
	TypeTfhd = Type{'t', 'f', 'h', 'd'}
	TypeTrun = Type{'t', 'r', 'u', 'n'}
	TypeMfra = Type{'m', 'f', 'r', 'a'}
	TypeMdat = Type{'m', 'd', 'a', 't'}
	TypeFree = Type{'f', 'r', 'e', 'e'}
	TypeUUID = Type{'u', 'u', 'i', 'd'}
	TypePssh = Type{'p', 's', 's', 'h'}
	// Protection boxes
	TypeSinf = Type{'s', 'i', 'n', 'f'}
	TypeFrma = Type{'f', 'r', 'm', 'a'}
	TypeSchm = Type{'s', 'c', 'h', 'm'}
	TypeSchi = Type{'s', 'c', 'h', 'i'}
	TypeTenc = Type{'t', 'e', 'n', 'c'}
	TypeSenc = Type{'s', 'e', 'n', 'c'}
	TypeSaiz = Type{'s', 'a', 'i', 'z'}
	TypeSaio = Type{'s', 'a', 'i', 'o'}
	// Sample entry boxes
	TypeEncv = Type{'e', 'n', 'c', 'v'}
	TypeEnca = Type{'e', 'n', 'c', 'a'}
	TypeAvc1 = Type{'a', 'v', 'c', '1'}
	TypeAvc3 = Type{'a', 'v', 'c', '3'}
	TypeHvc1 = Type{'h', 'v', 'c', '1'}
	TypeHev1 = Type{'h', 'e', 'v', '1'}
	TypeAv01 = Type{'a', 'v', '0', '1'}
	TypeVp09 = Type{'v', 'p', '0', '9'}
	TypeDvh1 = Type{'d', 'v', 'h', '1'}
	TypeDvhe = Type{'d', 'v', 'h', 'e'}
	TypeMp4v = Type{'m', 'p', '4', 'v'}
	TypeMp4a = Type{'m', 'p', '4', 'a'}
	TypeAc3  = Type{'a', 'c', '-', '3'}
	TypeEc3  = Type{'e', 'c', '-', '3'}
	TypeOpus = Type{'O', 'p', 'u', 's'}
	TypeFlac = Type{'f', 'L', 'a', 'C'}
)

// Kind selects which payload representation a Box uses.
// It is fixed when the box is decoded and does not follow later
// changes to Type.
type Kind uint8

// Payload kinds.
const (
	KindOpaque Kind = iota
	KindContainer
	KindVisualEntry
	KindAudioEntry
	KindStsd
	KindFrma
	KindSchm
	KindTenc
	KindSenc
	KindTrun
	KindTfhd
	KindTrex
	KindStsz
)

// kindOf returns the payload kind used to decode boxes of type t.
func kindOf(t Type) Kind {
	switch t {
	case TypeMoov, TypeTrak, TypeEdts, TypeMdia,
		TypeMinf, TypeDinf, TypeStbl, TypeMvex,
		TypeMoof, TypeTraf, TypeMfra, TypeSinf,
		TypeSchi:
		return KindContainer
	case TypeEncv, TypeAvc1, TypeAvc3, TypeHvc1,
		TypeHev1, TypeAv01, TypeVp09, TypeDvh1,
		TypeDvhe, TypeMp4v:
		return KindVisualEntry
	case TypeEnca, TypeMp4a, TypeAc3, TypeEc3,
		TypeOpus, TypeFlac:
		return KindAudioEntry
	case TypeStsd:
		return KindStsd
	case TypeFrma:
		return KindFrma
	case TypeSchm:
		return KindSchm
	case TypeTenc:
		return KindTenc
	case TypeSenc:
		return KindSenc
	case TypeTrun:
		return KindTrun
	case TypeTfhd:
		return KindTfhd
	case TypeTrex:
		return KindTrex
	case TypeStsz:
		return KindStsz
	}
	return KindOpaque
}

// isFullBox reports whether payloads of kind k start with version and flags.
func (k Kind) isFullBox() bool {
	switch k {
	case KindStsd, KindSchm, KindTenc, KindSenc,
		KindTrun, KindTfhd, KindTrex, KindStsz:
		return true
	}
	return false
}

// HeaderForm records how a box's size was declared in the input.
type HeaderForm uint8

// Header forms.
const (
	// HeaderCompact is a 32-bit size field.
	HeaderCompact HeaderForm = iota
	// HeaderLarge is a size field of 1 followed by a 64-bit size.
	HeaderLarge
	// HeaderToEnd is a size field of 0: the box extends to the end of
	// the enclosing space.
	HeaderToEnd
)

// Box is a node of the box tree.
//
// Exactly one payload representation is in use, selected by Kind:
// Children for containers, Entry for sample entries, one of the typed
// pointers for known leaf boxes, or Data for everything else.
type Box struct {
	Type Type
	Form HeaderForm

	// Version and Flags are set for full boxes with a typed payload.
	Version uint8
	Flags   uint32

	Children []*Box
	Entry    *SampleEntry
	Stsd     *Stsd
	Frma     *Frma
	Schm     *Schm
	Tenc     *Tenc
	Senc     *Senc
	Trun     *Trun
	Tfhd     *Tfhd
	Trex     *Trex
	Stsz     *Stsz
	Data     []byte

	// Tail holds payload bytes that follow the decoded fields or the
	// last child box. They are written back unchanged.
	Tail []byte

	kind Kind
}

// New returns an opaque box of type t carrying data.
func New(t Type, data []byte) *Box {
	return &Box{Type: t, Data: data}
}

// NewContainer returns a container box of type t holding children.
func NewContainer(t Type, children ...*Box) *Box {
	return &Box{Type: t, Children: children, kind: KindContainer}
}

// Kind returns the payload representation of the box.
func (b *Box) Kind() Kind { return b.kind }

// ChildBoxes returns the child boxes of b, whichever payload holds them:
// container children, stsd entries or sample entry children.
func (b *Box) ChildBoxes() []*Box {
	switch b.kind {
	case KindContainer:
		return b.Children
	case KindVisualEntry, KindAudioEntry:
		return b.Entry.Children
	case KindStsd:
		return b.Stsd.Entries
	}
	return nil
}
