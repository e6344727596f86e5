package cmd

import (
	"fmt"
	"io"
)

const banner = `
                                              _       
   ___ ___  _   _ _ __ ___  ___  __ _  __ _| |_ ___ 
  / __/ _ \| | | | '__/ __|/ _ \/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | (_| (_) | |_| | |  \__ \  __/ (_| | (_| | ||  __/
  \___\___/ \__,_|_|  |___/\___|\__, |\__,_|\__\___|
                                |___/               
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Request security for the course platform - Version %s\x1b[0m\n\n", Version)
}
