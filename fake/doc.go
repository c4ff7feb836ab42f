// Package fake
// Author: momentics <momentics@gmail.com>
//
// Test doubles for the codec and processor contracts: a pass-through
// codec, a length-prefixed codec, an echo processor and a recorder that
// lets tests wait for lifecycle events.

package fake
