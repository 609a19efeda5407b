// Package order turns client order requests into upstream trading
// commands.
//
// Create, Cancel and Update all go through a CommandSender, normally the
// single authenticated trading session. Update is cancel then create and is
// not atomic: when the create step fails the original order is already
// gone.
//
// The SideTable remembers which symbol each order id belongs to so cancels
// can omit the symbol.
package order
