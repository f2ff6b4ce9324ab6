// Command license-keygen mints and inspects signage license keys.
//
// Usage:
//
//	license-keygen -secret SECRET -tier PRO-10 -devices 10 -company "Acme" -expires 2027-01-31
//	license-keygen -secret SECRET -decode LK-2-...
//
// The secret must match the hub's installation secret (HUB_SECRET) or the
// minted key will fail signature verification on activation.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/signagekit/signage-hub-go/internal/licensekey"
)

func main() {
	secret := flag.String("secret", os.Getenv("HUB_SECRET"), "installation secret (defaults to HUB_SECRET)")
	tier := flag.String("tier", "PRO-10", "license tier, PRO-N sets the device cap")
	devicesFlag := flag.Int("devices", 0, "device cap override (0 derives from tier)")
	company := flag.String("company", "", "licensee name embedded in the key")
	expires := flag.String("expires", "", "expiry date YYYY-MM-DD (empty for perpetual)")
	decode := flag.String("decode", "", "decode and verify an existing key instead of minting")
	flag.Parse()

	if *secret == "" {
		log.Fatal("missing -secret (or HUB_SECRET)")
	}

	if *decode != "" {
		payload, err := licensekey.Decode(*decode, *secret)
		if err != nil {
			log.Fatalf("decode failed: %v", err)
		}
		fmt.Printf("version:     %d\n", payload.Version)
		fmt.Printf("tier:        %s\n", payload.Tier)
		fmt.Printf("max devices: %d\n", payload.MaxDevices)
		if payload.Company != "" {
			fmt.Printf("company:     %s\n", payload.Company)
		}
		if payload.ExpiresAt != "" {
			fmt.Printf("expires:     %s\n", payload.ExpiresAt)
		} else {
			fmt.Println("expires:     never")
		}
		if payload.IssuedAt != "" {
			fmt.Printf("issued:      %s\n", payload.IssuedAt)
		}
		fmt.Printf("key hash:    %s\n", licensekey.KeyHash(*decode))
		return
	}

	if *expires != "" {
		if _, err := time.Parse(licensekey.DateLayout, *expires); err != nil {
			log.Fatalf("invalid -expires, want YYYY-MM-DD: %v", err)
		}
	}
	maxDevices := *devicesFlag
	if maxDevices <= 0 {
		maxDevices = licensekey.MaxDevicesForTier(*tier, 0)
		if maxDevices <= 0 {
			log.Fatalf("cannot derive device cap from tier %q, pass -devices", *tier)
		}
	}

	key, err := licensekey.Encode(licensekey.Payload{
		Tier:       *tier,
		MaxDevices: maxDevices,
		Company:    *company,
		ExpiresAt:  *expires,
		IssuedAt:   time.Now().UTC().Format(licensekey.DateLayout),
	}, *secret)
	if err != nil {
		log.Fatalf("encode failed: %v", err)
	}
	fmt.Println(key)
}
