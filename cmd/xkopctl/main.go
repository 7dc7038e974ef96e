package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

type CLICommand struct {
	URL          string              `long:"url" default:"http://127.0.0.1:5000" env:"XKOPCTL_URL" description:"Gateway REST base URL"`
	Token        string              `long:"token" env:"XKOPCTL_TOKEN" description:"Bearer token or machine token"`
	Timeout      int                 `short:"t" long:"timeout" default:"5" description:"Timeout (in seconds)"`
	Frame        FrameCommands       `command:"frame" description:"Build or decode XKOP frames"`
	OID          OIDCommands         `command:"oid" description:"Resolve or encode UTMC OIDs"`
	Get          GetCommand          `command:"get" description:"GET an output object through the gateway"`
	Set          SetCommand          `command:"set" description:"SET an input object through the gateway"`
	HashPassword HashPasswordCommand `command:"hash-password" description:"Print an argon2id hash for auth.users[].password_hash"`
	MachineToken MachineTokenCommand `command:"machine-token" description:"Generate a machine token and its digest"`
	Health       HealthCommand       `command:"health" description:"Query the gRPC health service"`
}

var clicmd CLICommand

func main() {
	parser := flags.NewParser(&clicmd, flags.HelpFlag|flags.PassDoubleDash)

	_, err := parser.Parse()

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
