package utmc

import "fmt"

type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

type Kind int

const (
	Scalar Kind = iota
	Bitmask
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Bitmask:
		return "bitmask"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Function is one UTMC control or reply object.
type Function struct {
	Mnemonic  string    `json:"mnemonic"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"-"`
	Direction Direction `json:"direction"`
}

// Control functions (instation to controller).
var controlFunctions = []Function{
	{"DX", "4.2.1.3", Scalar, In},
	{"Dn", "4.2.1.4", Bitmask, In},
	{"Fn", "4.2.1.5", Bitmask, In},
	{"SFn", "4.2.1.6", Bitmask, In},
	{"PV", "4.2.1.7", Scalar, In},
	{"PX", "4.2.1.8", Scalar, In},
	{"SO", "4.2.1.9", Scalar, In},
	{"SG", "4.2.1.10", Scalar, In},
	{"LO", "4.2.1.11", Scalar, In},
	{"LL", "4.2.1.12", Scalar, In},
	{"TS", "4.2.1.13", Scalar, In},
	{"FM", "4.2.1.14", Scalar, In},
	{"TO", "4.2.1.15", Scalar, In},
	{"HI", "4.2.1.16", Scalar, In},
	{"CP", "4.2.1.17", Scalar, In},
	{"EP", "4.2.1.18", Scalar, In},
	{"GO", "4.2.1.19", Scalar, In},
	{"FF", "4.2.1.20", Scalar, In},
	{"MO", "4.2.1.21", Scalar, In},
}

// Reply functions (controller to instation).
var replyFunctions = []Function{
	{"Gn", "5.1.1.3", Bitmask, Out},
	{"GX", "5.1.1.4", Scalar, Out},
	{"DF", "5.1.1.5", Scalar, Out},
	{"FC", "5.1.1.6", Scalar, Out},
	{"SCn", "5.1.1.7", Bitmask, Out},
	{"HC", "5.1.1.8", Scalar, Out},
	{"WI", "5.1.1.9", Scalar, Out},
	{"PC", "5.1.1.10", Scalar, Out},
	{"PR", "5.1.1.11", Scalar, Out},
	{"CG", "5.1.1.12", Scalar, Out},
	{"GR1", "5.1.1.13", Scalar, Out},
	{"SDn", "5.1.1.14", Bitmask, Out},
	{"MC", "5.1.1.15", Scalar, Out},
	{"CF", "5.1.1.16", Scalar, Out},
	{"LE", "5.1.1.17", Scalar, Out},
	{"RR", "5.1.1.18", Scalar, Out},
	{"LFn", "5.1.1.19", Bitmask, Out},
	{"RF1", "5.1.1.20", Scalar, Out},
	{"RF2", "5.1.1.21", Scalar, Out},
	{"EV", "5.1.1.22", Scalar, Out},
	{"VC", "5.1.1.23", Scalar, Out},
	{"VO", "5.1.1.24", Scalar, Out},
	{"GPn", "5.1.1.25", Bitmask, Out},
	{"VQ", "5.1.1.26", Scalar, Out},
	{"CA", "5.1.1.27", Scalar, Out},
	{"CR", "5.1.1.28", Scalar, Out},
	{"CL", "5.1.1.29", Scalar, Out},
	{"CSn", "5.1.1.30", Bitmask, Out},
	{"TF", "5.1.1.31", Scalar, Out},
	{"VSn", "5.1.1.32", Bitmask, Out},
	{"CO", "5.1.1.33", Scalar, Out},
	{"EC", "5.1.1.34", Scalar, Out},
	{"CS", "5.1.1.35", Scalar, Out},
	{"FR", "5.1.1.36", Scalar, Out},
	{"BDn", "5.1.1.37", Bitmask, Out},
	{"TPn", "5.1.1.38", Bitmask, Out},
	{"SB", "5.1.1.39", Scalar, Out},
	{"LC", "5.1.1.40", Scalar, Out},
	{"MR", "5.1.1.41", Scalar, Out},
	{"MF", "5.1.1.42", Scalar, Out},
	{"ML", "5.1.1.43", Scalar, Out},
}

var (
	byPath     = map[Direction]map[string]Function{}
	byMnemonic = map[Direction]map[string]Function{}
)

func init() {
	for _, table := range [][]Function{controlFunctions, replyFunctions} {
		for _, fn := range table {
			if byPath[fn.Direction] == nil {
				byPath[fn.Direction] = map[string]Function{}
				byMnemonic[fn.Direction] = map[string]Function{}
			}
			byPath[fn.Direction][fn.Path] = fn
			byMnemonic[fn.Direction][fn.Mnemonic] = fn
		}
	}
}

// LookupPath finds the function registered under path for dir.
func LookupPath(dir Direction, path string) (Function, bool) {
	fn, ok := byPath[dir][path]
	return fn, ok
}

// LookupMnemonic finds a function by its mnemonic, e.g. "Dn" or "GX".
func LookupMnemonic(dir Direction, mnemonic string) (Function, bool) {
	fn, ok := byMnemonic[dir][mnemonic]
	return fn, ok
}

// Functions lists the table for dir in path order.
func Functions(dir Direction) []Function {
	src := replyFunctions
	if dir == In {
		src = controlFunctions
	}
	out := make([]Function, len(src))
	copy(out, src)
	return out
}
