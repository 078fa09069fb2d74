// Package sandbox provides a scriptable purchase.Provider for local runs and
// tests.
//
// Products and their scripted outcomes come from a YAML catalog:
//
//	environment: sandbox
//	products:
//	  - id: com.example.premium
//	    display_name: Premium
//	    display_price: $4.99
//	    type: non_consumable
//	    outcome: success
//	  - id: com.example.coins
//	    type: consumable
//	    outcome: pending
//	    delay: 250ms
//
// Outcomes are success, cancelled, pending, unverified and fault. Script
// changes a product's outcome at runtime.
package sandbox
