/*------------------------------------------------------------------
 *
 * Package:	xotpad
 *
 * Purpose:	X.25-over-TCP (XOT) Packet Assembler/Disassembler core.
 *
 * Description:	This package implements the two tightly coupled subsystems
 *		that make up the hard engineering of an X.25 PAD:
 *
 *			- the switched virtual circuit (VC) engine, a
 *			  state machine over a reliable byte-oriented link
 *			  with packet framing, sequence numbering, sliding
 *			  windows, and the three protection timers T21/T22/T23.
 *
 *			- the PAD character/packet adapter, which translates
 *			  between a byte stream and X.25 data packets while
 *			  enforcing X.3 parameters (echo, forwarding, idle
 *			  timer, LF insertion) and carrying X.29 remote
 *			  parameter negotiation on the qualified-data
 *			  sub-channel.
 *
 *		The TCP listener/connector, the XOT framing codec, the X.28
 *		command parser, TTY handling, configuration loading and the
 *		CLI are all external collaborators. They reach this package
 *		only through the Link interface and the parameter types.
 *
 *------------------------------------------------------------------*/

package xotpad
