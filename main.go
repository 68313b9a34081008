// Command crawlgrep searches fetched pages for a phrase.
package main

import "github.com/JakeFAU/crawlgrep/cmd"

func main() {
	cmd.Execute()
}
