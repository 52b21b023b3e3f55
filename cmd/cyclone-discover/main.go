/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
cyclone-discover finds cyclone replicas advertising themselves on the
local network via mDNS, so an operator standing up a new node can
populate its active.replicas list without already knowing the
cluster's addresses.

Usage:

	cyclone-discover                  # discover nodes (5 second timeout)
	cyclone-discover --timeout 10     # custom timeout in seconds
	cyclone-discover --json           # output as JSON
	cyclone-discover --quiet          # only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/config"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."

	// serviceName must match what a replica passes to config.Advertise.
	serviceName = "_cyclone._tcp"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output addresses (for scripting)")
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// mdns logs IPv6 lookup errors on many hosts that are not fatal to
	// discovery; the tool's own error handling below is authoritative.
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
		fmt.Printf("%s%sℹ%s Scanning for cyclone replicas on the network (timeout: %ds)...\n\n",
			cyan, bold, reset, *timeout)
	}

	addrs, err := config.DiscoverPeers(serviceName, time.Duration(*timeout)*time.Second)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s%s✗%s Discovery failed: %v\n", red, bold, reset, err)
		}
		os.Exit(1)
	}

	if len(addrs) == 0 {
		if !*quiet && !*jsonOutput {
			fmt.Printf("%s%s⚠%s No cyclone replicas found on the network.\n\n", yellow, bold, reset)
			fmt.Printf("%s%sTROUBLESHOOTING%s\n\n", bold, cyan, reset)
			fmt.Printf("%s  Common issues:%s\n", dim, reset)
			fmt.Printf("    %s•%s no replica on the network is currently advertising\n", yellow, reset)
			fmt.Printf("    %s•%s mDNS/Bonjour is blocked by firewall (UDP port 5353)\n", yellow, reset)
			fmt.Printf("    %s•%s nodes are on a different network segment\n\n", yellow, reset)
			fmt.Printf("%s  Try:%s\n", dim, reset)
			fmt.Printf("    %scyclone-discover --timeout 10%s   # Increase timeout\n\n", green, reset)
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(addrs)
	case *quiet:
		fmt.Println(strings.Join(addrs, ","))
	default:
		outputHuman(addrs)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%s", cyan, bold)
	fmt.Println("  ██████╗██╗   ██╗ ██████╗██╗      ██████╗ ███╗   ██╗███████╗")
	fmt.Println(" ██╔════╝╚██╗ ██╔╝██╔════╝██║     ██╔═══██╗████╗  ██║██╔════╝")
	fmt.Println(" ██║      ╚████╔╝ ██║     ██║     ██║   ██║██╔██╗ ██║█████╗  ")
	fmt.Println(" ██║       ╚██╔╝  ██║     ██║     ██║   ██║██║╚██╗██║██╔══╝  ")
	fmt.Println(" ╚██████╗   ██║   ╚██████╗███████╗╚██████╔╝██║ ╚████║███████╗")
	fmt.Println("  ╚═════╝   ╚═╝    ╚═════╝╚══════╝ ╚═════╝ ╚═╝  ╚═══╝╚══════╝")
	fmt.Printf("%s\n", reset)
	fmt.Printf("  %s%sCyclone Discover%s %sv%s%s\n", green, bold, reset, dim, version, reset)
	fmt.Printf("  %sNetwork Replica Discovery Tool%s\n\n", dim, reset)
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s%sCyclone Discover%s %sv%s%s\n", cyan, bold, reset, dim, version, reset)
	fmt.Printf("  %s%s%s\n\n", dim, copyright, reset)
}

func printUsage() {
	printBanner()
	fmt.Printf("%s  Discovers cyclone replicas on the local network using mDNS.%s\n", dim, reset)
	fmt.Printf("%s  Useful for finding an existing cluster's replicas to join.%s\n\n", dim, reset)
	fmt.Printf("%sUsage:%s cyclone-discover [options]\n\n", bold, reset)
	fmt.Printf("%s%sOPTIONS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s--timeout%s <seconds>   Discovery timeout (default: 5)\n", green, reset)
	fmt.Printf("    %s--json%s               Output results as JSON\n", green, reset)
	fmt.Printf("    %s--quiet%s, %s-q%s          Only output addresses (for scripting)\n", green, reset, green, reset)
	fmt.Printf("    %s--version%s, %s-v%s        Show version information\n", green, reset, green, reset)
	fmt.Printf("    %s--help%s, %s-h%s           Show this help message\n\n", green, reset, green, reset)
	fmt.Printf("%s%sEXAMPLES%s\n\n", bold, cyan, reset)
	fmt.Println("    cyclone-discover")
	fmt.Println("    cyclone-discover --timeout 10")
	fmt.Println("    cyclone-discover --json")
	fmt.Println("    PEERS=$(cyclone-discover --quiet)")
	fmt.Println()
}

func outputJSON(addrs []string) {
	data, _ := json.MarshalIndent(addrs, "", "  ")
	fmt.Println(string(data))
}

func outputHuman(addrs []string) {
	fmt.Printf("%s%s✓%s Found %d cyclone replica(s)\n\n", green, bold, reset, len(addrs))
	for i, addr := range addrs {
		fmt.Printf("  %s[%d]%s %s%s%s\n", dim, i+1, reset, bold+green, addr, reset)
	}
	fmt.Println()
	fmt.Printf("%s  Tip: Use --json for machine-readable output%s\n\n", dim, reset)
}
