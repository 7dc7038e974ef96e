package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// apiCall sends one request to the gateway and prints the JSON reply.
func apiCall(method, path string, query url.Values, body interface{}) error {
	u, err := url.Parse(strings.TrimRight(clicmd.URL, "/") + path)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if clicmd.Token != "" {
		req.Header.Set("Authorization", "Bearer "+clicmd.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Println(string(raw))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

type GetCommand struct {
	OID string `long:"oid" required:"true" description:"Output object OID"`
}

func (c *GetCommand) Execute(args []string) error {
	return apiCall(http.MethodGet, "/api/v1/snmp/get", url.Values{"oid": {c.OID}}, nil)
}

type SetCommand struct {
	OID   string `long:"oid" required:"true" description:"Input object OID"`
	Value string `long:"value" required:"true" description:"Decimal value; bitmasks may exceed 64 bits"`
}

func (c *SetCommand) Execute(args []string) error {
	return apiCall(http.MethodPost, "/api/v1/snmp/set", nil, map[string]string{
		"oid":   c.OID,
		"value": c.Value,
	})
}
