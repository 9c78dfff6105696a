package main

import (
	"fmt"

	echoapi "github.com/trezcool/tabula/apps/api/echo"
)

// token prints a bearer token for the API client `subject`.
func (cli *commandLine) token(subject, name string) error {
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, subject, name))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
