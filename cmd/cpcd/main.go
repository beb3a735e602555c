package main

import (
	cpcd "github.com/nkljajic/cpc-daemon/src"
)

func main() {
	cpcd.Run()
}
