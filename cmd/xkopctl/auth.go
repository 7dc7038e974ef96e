package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/KevinKickass/xkop-gateway/internal/auth"
)

type HashPasswordCommand struct {
	Password string `long:"password" env:"XKOPCTL_PASSWORD" description:"Password to hash; read from stdin when empty"`
}

func (c *HashPasswordCommand) Execute(args []string) error {
	password := c.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}

	hash, err := auth.NewPasswordHasher().HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

type MachineTokenCommand struct{}

func (c *MachineTokenCommand) Execute(args []string) error {
	token, digest, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		return err
	}
	fmt.Printf("token:      %s\n", token)
	fmt.Printf("token_hash: %s\n", digest)
	return nil
}
