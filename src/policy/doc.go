// Package policy implements the distribution of access policies.
//
// An owner grants a recipient access to a label by splitting a re-encryption
// capability into key fragments (kfrags), one per proxy. The Grantor picks
// candidate proxies from the fleet, negotiates an Arrangement with each of
// them through the Negotiator, and publishes a TreasureMap that tells the
// recipient which proxies hold its fragments. The Resolver finds and opens
// that map on the recipient's side.
//
// Both sides derive the same HRAC (hashed resource access code) from the
// owner's and recipient's verifying keys and the label. Treasure maps are
// published under a public id derived from the owner key and the HRAC.
package policy
