package main

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/xkop-gateway/internal/utmc"
)

type OIDResolveCommand struct {
	Args struct {
		OIDs []string `required:"1"`
	} `positional-args:"yes" required:"yes"`
}

func (c *OIDResolveCommand) Execute(args []string) error {
	for _, oid := range c.Args.OIDs {
		res, err := utmc.Resolve(oid)
		if err != nil {
			fmt.Printf("%s: %v\n", oid, err)
			continue
		}
		printJSON(struct {
			utmc.Resolution
			Kind string `json:"kind"`
		}{res, res.Kind.String()})
	}
	return nil
}

type OIDEncodeCommand struct {
	Path     string `long:"path" description:"Function path, e.g. 4.2.1.3"`
	Function string `short:"f" long:"function" description:"Function mnemonic instead of --path, e.g. Dn"`
	Dir      string `long:"dir" default:"in" choice:"in" choice:"out" description:"Direction used to look up --function"`
	Pre      int    `long:"pre" default:"1" description:"preIndex"`
	SCN      string `long:"scn" description:"Site code"`
}

func (c *OIDEncodeCommand) Execute(args []string) error {
	path := c.Path
	if c.Function != "" {
		fn, ok := utmc.LookupMnemonic(utmc.Direction(c.Dir), c.Function)
		if !ok {
			return fmt.Errorf("unknown %s function %q", c.Dir, c.Function)
		}
		path = fn.Path
	}
	if path == "" {
		return fmt.Errorf("one of --path or --function is required")
	}
	oid, err := utmc.Encode(path, c.Pre, strings.TrimSpace(c.SCN))
	if err != nil {
		return err
	}
	fmt.Println(oid)
	return nil
}

type OIDListCommand struct {
	Dir string `long:"dir" default:"in" choice:"in" choice:"out"`
}

func (c *OIDListCommand) Execute(args []string) error {
	for _, fn := range utmc.Functions(utmc.Direction(c.Dir)) {
		fmt.Printf("%-4s %-10s %s\n", fn.Mnemonic, fn.Path, fn.Kind)
	}
	return nil
}

type OIDCommands struct {
	Resolve OIDResolveCommand `command:"resolve" description:"Decode OIDs into function, preIndex and site code"`
	Encode  OIDEncodeCommand  `command:"encode" description:"Build an OID"`
	List    OIDListCommand    `command:"list" description:"List known functions"`
}
