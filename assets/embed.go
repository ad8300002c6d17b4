package assets

import _ "embed"

// Help is the text sent for "help" and "introduce yourself".
//
//go:embed help.txt
var Help string
