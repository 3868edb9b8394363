/*
Copyright © 2022 Nicholas McKinney
*/
package main

import "resextractor/cmd"

func main() {
	cmd.Execute()
}
