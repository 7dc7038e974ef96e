package main

import (
	"fmt"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
)

type FrameBuildCommand struct {
	Alive bool `long:"alive" description:"Build an ALIVE frame instead of DATA"`
	Args  struct {
		Records []string `description:"idx=value pairs"`
	} `positional-args:"yes"`
}

func (c *FrameBuildCommand) Execute(args []string) error {
	if c.Alive {
		fmt.Println(xkop.BuildAlive())
		return nil
	}
	records, err := xkop.ParseRecords(c.Args.Records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records given")
	}
	for _, f := range xkop.Batch(records) {
		fmt.Println(f)
	}
	return nil
}

type FrameParseCommand struct {
	Args struct {
		Hex []string `required:"1" description:"frame bytes as hex"`
	} `positional-args:"yes" required:"yes"`
}

func (c *FrameParseCommand) Execute(args []string) error {
	raw, err := xkop.ParseHex(joinArgs(c.Args.Hex))
	if err != nil {
		return err
	}
	records, err := xkop.Parse(raw)
	if err != nil {
		return err
	}
	fmt.Printf("type %s, crc 0x%04X\n", xkop.FrameType(raw[2]), xkop.CRC16(raw[:xkop.FrameSize-2]))
	if len(records) == 0 {
		fmt.Println("no records")
	}
	for _, r := range records {
		fmt.Println(r)
	}
	return nil
}

type FrameCommands struct {
	Build FrameBuildCommand `command:"build" description:"Encode idx=value records into DATA frames"`
	Parse FrameParseCommand `command:"parse" alias:"decode" description:"Validate and decode a frame"`
}
