// Package ethercat is a runtime layer on top of an EtherCAT master driver.
//
// It discovers the slaves present on the bus, lays out their mapped PDO
// entries inside of a single process data image and exchanges that image
// every cycle. Slave parameters are accessible through SDO, either with
// blocking transfers before cyclic operation starts or with scheduled
// requests once the bus is operational.
//
// The master driver itself is accessed through the [Bus] interface.
package ethercat

const Version = "v1.5.2"
