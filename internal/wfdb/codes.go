package wfdb

import "strconv"

// Annotation codes used by the apnea labelling.
const (
	CodeNormal = 1
	CodeApnea  = 8
)

// Pseudo codes of the MIT annotation format.
const (
	codeSkip = 59
	codeNum  = 60
	codeSub  = 61
	codeChn  = 62
	codeAux  = 63
)

var mnemonics = map[int]string{
	1:  "N",
	2:  "L",
	3:  "R",
	4:  "a",
	5:  "V",
	6:  "F",
	7:  "J",
	8:  "A",
	9:  "S",
	10: "E",
	11: "j",
	12: "/",
	13: "Q",
	14: "~",
	16: "|",
	18: "s",
	19: "T",
	20: "*",
	21: "D",
	22: `"`,
	23: "=",
	24: "p",
	25: "B",
	26: "^",
	27: "t",
	28: "+",
	29: "u",
	30: "?",
	31: "!",
	32: "[",
	33: "]",
	34: "e",
	35: "n",
	36: "@",
	37: "x",
	38: "f",
	39: "(",
	40: ")",
	41: "r",
}

// Mnemonic returns the standard symbol of an annotation code, or "[code]"
// for codes without one.
func Mnemonic(code int) string {
	if s, ok := mnemonics[code]; ok {
		return s
	}
	return "[" + strconv.Itoa(code) + "]"
}
