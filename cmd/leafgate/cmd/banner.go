package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _                 __  ____       _       
 | |    ___  __ _ / _|/ ___| __ _| |_ ___ 
 | |   / _ \/ _` + "`" + ` | |_| |  _ / _` + "`" + ` | __/ _ \
 | |__|  __/ (_| |  _| |_| | (_| | ||  __/
 |_____\___|\__,_|_|  \____|\__,_|\__\___|
                                          
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[32m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Leaf Image Admission Gateway - Version %s\x1b[0m\n\n", Version)
}
