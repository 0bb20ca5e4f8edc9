// Command vctl is the control CLI of spec §6.4: shutdown/reboot/status/
// start/stop against a running verdantd.
package main

import "github.com/saltnpepper97/verdant/internal/vctlcmd"

func main() {
	vctlcmd.Execute()
}
