package model

import (
	"fmt"
	"strings"
)

type SequenceType int

const (
	SequenceTypeUnknown SequenceType = iota
	SequenceTypeEST
	SequenceTypeMRNA
	SequenceTypeDNA
	SequenceTypeOligo
	SequenceTypeAffyProbe
	SequenceTypeAffyTarget
	SequenceTypeAffyCollapsed
	SequenceTypeRefSeq
	SequenceTypeBAC
	SequenceTypeOther
)

func (s SequenceType) String() string {
	switch s {
	case SequenceTypeEST:
		return "EST"
	case SequenceTypeMRNA:
		return "mRNA"
	case SequenceTypeDNA:
		return "DNA"
	case SequenceTypeOligo:
		return "OLIGO"
	case SequenceTypeAffyProbe:
		return "AFFY_PROBE"
	case SequenceTypeAffyTarget:
		return "AFFY_TARGET"
	case SequenceTypeAffyCollapsed:
		return "AFFY_COLLAPSED"
	case SequenceTypeRefSeq:
		return "REFSEQ"
	case SequenceTypeBAC:
		return "BAC"
	case SequenceTypeOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

func ParseSequenceType(name string) (SequenceType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "UNKNOWN":
		return SequenceTypeUnknown, nil
	case "EST":
		return SequenceTypeEST, nil
	case "MRNA":
		return SequenceTypeMRNA, nil
	case "DNA":
		return SequenceTypeDNA, nil
	case "OLIGO":
		return SequenceTypeOligo, nil
	case "AFFY_PROBE":
		return SequenceTypeAffyProbe, nil
	case "AFFY_TARGET":
		return SequenceTypeAffyTarget, nil
	case "AFFY_COLLAPSED":
		return SequenceTypeAffyCollapsed, nil
	case "REFSEQ":
		return SequenceTypeRefSeq, nil
	case "BAC":
		return SequenceTypeBAC, nil
	case "OTHER":
		return SequenceTypeOther, nil
	}
	return SequenceTypeUnknown, fmt.Errorf("unknown sequence type %q", name)
}

func (s SequenceType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StrandInformative is true for single-stranded probe designs, where the
// orientation of the alignment says which strand the probe detects.
func (s SequenceType) StrandInformative() bool {
	switch s {
	case SequenceTypeOligo, SequenceTypeAffyProbe, SequenceTypeAffyTarget, SequenceTypeAffyCollapsed:
		return true
	}
	return false
}

// ThreePrimeMethod selects how the distance to the 3' end of a transcript is measured.
type ThreePrimeMethod int

const (
	ThreePrimeRight  ThreePrimeMethod = iota // alignment edge nearest the 3' end
	ThreePrimeMiddle                         // center base of the alignment
	ThreePrimeLeft                           // not supported
)

func (m ThreePrimeMethod) String() string {
	switch m {
	case ThreePrimeRight:
		return "RIGHT"
	case ThreePrimeMiddle:
		return "MIDDLE"
	case ThreePrimeLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

func (m ThreePrimeMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

const (
	StrandPlus  = "+"
	StrandMinus = "-"
)
