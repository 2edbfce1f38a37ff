package main

import (
	"fmt"

	"gohaven/internal/server"
)

func main() {
	srv := server.NewServer()

	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		panic(fmt.Sprintf("cannot start server: %s", err))
	}
}
