// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// capdbg is a small debug client: it resolves paths and searches
// properties against a running capsuled.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capsule/capsuled/client"
	"github.com/capsule/capsuled/data"
)

var (
	address   string
	network   string
	workspace string
	pathId    string
	searchKey string
	searchVal string
)

func usage() {
	_, file := filepath.Split(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage of %s [flags]:\n\n", file)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
  This utility resolves node ids to paths and searches properties
  against a running capsuled.
`)
}

func init() {
	flag.StringVar(&address, "address", "127.0.0.1:8210", "server address")
	flag.StringVar(&network, "network", "tcp", "server network")
	flag.StringVar(&workspace, "workspace", "default", "workspace to log into")
	flag.StringVar(&pathId, "path", "", "resolve the path of this node id")
	flag.StringVar(&searchKey, "search-prop", "", "property name to search")
	flag.StringVar(&searchVal, "search-value", "", "property value to search")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	ctrl, err := client.Dial(network, address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	rootId, err := ctrl.Login(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "root %s\n", rootId)

	if pathId != "" {
		path, err := ctrl.GetPath(data.Id(pathId))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "%s\n", path)
	}

	if searchKey != "" {
		hits, err := ctrl.SearchProperty(searchKey, searchVal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		for _, hit := range hits {
			fmt.Fprintf(os.Stdout, "%s %s\n", hit.Id, hit.Path)
		}
	}
}
