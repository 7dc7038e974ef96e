package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}

func timeout() time.Duration {
	return time.Second * time.Duration(clicmd.Timeout)
}
