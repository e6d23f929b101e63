/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/quizdesk/quizstore/cmd"

func main() {
	cmd.Execute()
}
